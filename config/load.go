//go:build !tinygo

package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML calibration file over the defaults and validates it.
func Load(path string) (Robot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Robot{}, errors.Wrapf(err, "reading config %s", path)
	}
	robot, err := Parse(data)
	if err != nil {
		return Robot{}, errors.Wrapf(err, "config %s", path)
	}
	return robot, nil
}

// Parse decodes YAML over the defaults and validates the result. Keys that are
// not present keep their default value; a sensors list replaces the default
// list entirely.
func Parse(data []byte) (Robot, error) {
	robot := Default()
	if err := yaml.Unmarshal(data, &robot); err != nil {
		return Robot{}, errors.Wrap(err, "decoding yaml")
	}
	if err := robot.Validate(); err != nil {
		return Robot{}, errors.Wrap(err, "invalid calibration")
	}
	return robot, nil
}

// Marshal encodes the calibration as YAML.
func (r Robot) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "encoding yaml")
	}
	return data, nil
}

// UnmarshalYAML leaves Emitter at NoEmitter when the key is absent.
func (s *Sensor) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name    string `yaml:"name"`
		Channel uint8  `yaml:"channel"`
		Emitter *uint8 `yaml:"emitter"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s.Name = raw.Name
	s.Channel = raw.Channel
	s.Emitter = NoEmitter
	if raw.Emitter != nil {
		s.Emitter = *raw.Emitter
	}
	return nil
}

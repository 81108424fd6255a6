package config

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultProfile is used when a profile file does not name one
const DefaultProfile = "default"

// Profiles is a set of named Properties with one marked active
type Profiles struct {
	Use      string
	Profiles map[string]Properties
}

type profilesFile struct {
	Use        string               `yaml:"use"`
	Properties map[string]yaml.Node `yaml:"properties"`
}

// LoadProfiles decodes a YAML profile document. Each profile is decoded on
// top of Defaults, so omitted keys keep their default values.
//
//	use: production
//	properties:
//	  production:
//	    host: rabbit.internal
//	    exchange: events
//	    queue: billing
func LoadProfiles(r io.Reader) (Profiles, error) {
	var raw profilesFile
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return Profiles{}, fmt.Errorf("decode profiles: %w", err)
	}

	profiles := Profiles{
		Use:      raw.Use,
		Profiles: make(map[string]Properties, len(raw.Properties)),
	}
	if profiles.Use == "" {
		profiles.Use = DefaultProfile
	}

	for name, node := range raw.Properties {
		p := Defaults()
		if err := node.Decode(&p); err != nil {
			return Profiles{}, fmt.Errorf("decode profile %q: %w", name, err)
		}
		profiles.Profiles[name] = p
	}

	return profiles, nil
}

// UnmarshalYAML decodes queue options on top of the current values. An
// explicit arguments key replaces the default arguments instead of adding to
// them.
func (o *QueueOptions) UnmarshalYAML(value *yaml.Node) error {
	type plain QueueOptions
	opts := plain(*o)
	if hasKey(value, "arguments") {
		opts.Args = nil
	}
	if err := value.Decode(&opts); err != nil {
		return err
	}
	*o = QueueOptions(opts)
	return nil
}

// UnmarshalYAML decodes QoS on top of DefaultQoS, so an empty qos node
// enables prefetch with the default count.
func (q *QoS) UnmarshalYAML(value *yaml.Node) error {
	type plain QoS
	qos := plain(DefaultQoS())
	if err := value.Decode(&qos); err != nil {
		return err
	}
	*q = QoS(qos)
	return nil
}

func hasKey(node *yaml.Node, key string) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}

// LoadProfilesFile reads profiles from a YAML file
func LoadProfilesFile(path string) (Profiles, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profiles{}, fmt.Errorf("open profiles: %w", err)
	}
	defer f.Close()

	return LoadProfiles(f)
}

// Profile returns a copy of the named profile
func (p Profiles) Profile(name string) (Properties, error) {
	props, ok := p.Profiles[name]
	if !ok {
		return Properties{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return props.Clone(), nil
}

// Active returns a copy of the profile selected by Use
func (p Profiles) Active() (Properties, error) {
	name := p.Use
	if name == "" {
		name = DefaultProfile
	}
	return p.Profile(name)
}

// Names lists the profile names in sorted order
func (p Profiles) Names() []string {
	names := make([]string, 0, len(p.Profiles))
	for name := range p.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

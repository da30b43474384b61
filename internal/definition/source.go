package definition

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
	"gopkg.in/yaml.v3"
)

// Source loads object definitions from some external schema descriptor, the
// "object_definition_sources" entries named in spec §6. Two are provided:
// XMLSource for the teacher's OMA LWM2M XML format, and YAMLSource for the
// same schema expressed in YAML — both produce identical ObjectDefinition
// trees so the registry never cares which was used.
type Source interface {
	Load(path string) ([]*ObjectDefinition, error)
}

// LoadAll loads every file in dir using src and returns the combined
// definition list in file-name order (the order os.ReadDir gives), not
// sorted by object ID, grounded on the teacher's
// LoadLwm2mDefinitions (lwm2m_resource.go), generalized to take any Source.
func LoadAll(src Source, dir string) ([]*ObjectDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var all []*ObjectDefinition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		defs, err := src.Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("definition: loading %s: %w", entry.Name(), err)
		}
		all = append(all, defs...)
	}
	return all, nil
}

// --- XML ---

// XMLSource parses the OMA LightweightM2M object-definition XML format
// (<LWM2M><Object>...</Object></LWM2M>), grounded on
// lwm2m_resource.go:Lwm2mDefinitionXML in the teacher.
type XMLSource struct{}

type xmlDoc struct {
	XMLName xml.Name      `xml:"LWM2M"`
	Object  *xmlObjectDef `xml:"Object"`
}

type xmlObjectDef struct {
	Name      string          `xml:"Name"`
	ID        string          `xml:"ObjectID"`
	Multi     string          `xml:"MultipleInstances"`
	Mandatory string          `xml:"Mandatory"`
	Resources []*xmlResourceDef `xml:"Resources>Item"`
}

type xmlResourceDef struct {
	ID         string `xml:"ID,attr"`
	Name       string `xml:"Name"`
	Operations string `xml:"Operations"`
	Multi      string `xml:"MultipleInstances"`
	Mandatory  string `xml:"Mandatory"`
	Type       string `xml:"Type"`
}

func (XMLSource) Load(path string) ([]*ObjectDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := &xmlDoc{}
	if err := xml.Unmarshal(raw, doc); err != nil {
		return nil, err
	}
	if doc.Object == nil {
		return nil, fmt.Errorf("definition: %s has no Object element", path)
	}
	def, err := objectFromXML(doc.Object)
	if err != nil {
		return nil, err
	}
	return []*ObjectDefinition{def}, nil
}

func objectFromXML(x *xmlObjectDef) (*ObjectDefinition, error) {
	id, err := strconv.Atoi(x.ID)
	if err != nil {
		return nil, fmt.Errorf("definition: invalid ObjectID %q: %w", x.ID, err)
	}
	multi, err := cardinalityFromXML(x.Multi)
	if err != nil {
		return nil, err
	}
	mandatory, err := boolFromXML(x.Mandatory, "Mandatory", "Optional")
	if err != nil {
		return nil, err
	}
	def := &ObjectDefinition{
		ID:           model.ID(id),
		Name:         x.Name,
		MaxInstances: multi,
	}
	if mandatory {
		def.MinInstances = 1
	}
	for _, rx := range x.Resources {
		res, err := resourceFromXML(rx)
		if err != nil {
			return nil, err
		}
		def.resources = append(def.resources, res)
	}
	return def, nil
}

func resourceFromXML(x *xmlResourceDef) (*ResourceDefinition, error) {
	id, err := strconv.Atoi(x.ID)
	if err != nil {
		return nil, fmt.Errorf("definition: invalid resource ID %q: %w", x.ID, err)
	}
	multi, err := cardinalityFromXML(x.Multi)
	if err != nil {
		return nil, err
	}
	mandatory, err := boolFromXML(x.Mandatory, "Mandatory", "Optional")
	if err != nil {
		return nil, err
	}
	res := &ResourceDefinition{
		ID:           model.ID(id),
		Name:         x.Name,
		Array:        multi > 1,
		MaxInstances: multi,
		Kind:         kindFromXML(x.Type),
	}
	if mandatory {
		res.MinInstances = 1
	}
	if strings.Contains(x.Operations, "R") {
		res.Operations |= OpRead
	}
	if strings.Contains(x.Operations, "W") {
		res.Operations |= OpWrite
	}
	if strings.Contains(x.Operations, "E") {
		res.Operations |= OpExecute
	}
	return res, nil
}

func cardinalityFromXML(s string) (int, error) {
	switch s {
	case "Multiple":
		return int(model.MaxID), nil // no fixed bound; MaxID is the largest assignable ID
	case "Single":
		return 1, nil
	default:
		return 0, fmt.Errorf("definition: unrecognized cardinality %q", s)
	}
}

func boolFromXML(s, yes, no string) (bool, error) {
	switch s {
	case yes:
		return true, nil
	case no:
		return false, nil
	default:
		return false, fmt.Errorf("definition: unrecognized value %q (want %q or %q)", s, yes, no)
	}
}

func kindFromXML(t string) model.Kind {
	switch t {
	case "String":
		return model.KindString
	case "Integer":
		return model.KindInteger
	case "Float":
		return model.KindFloat
	case "Boolean":
		return model.KindBoolean
	case "Opaque":
		return model.KindOpaque
	case "Time":
		return model.KindTime
	case "Objlnk":
		return model.KindObjectLink
	default:
		return model.KindNone
	}
}

// --- YAML ---

// YAMLSource parses the same schema in a terser YAML form, new to this
// client: object_definition_sources entries whose format is "yaml" use it.
// Grounded on the pack's extensive gopkg.in/yaml.v3 usage (hectolitro-yeet,
// openshift-kni-oran-o2ims, rakunlabs-at all decode config/schema with it).
type YAMLSource struct{}

type yamlObjectDef struct {
	ID        model.ID        `yaml:"id"`
	Name      string          `yaml:"name"`
	Multi     bool            `yaml:"multi"`
	Mandatory bool            `yaml:"mandatory"`
	Resources []yamlResourceDef `yaml:"resources"`
}

type yamlResourceDef struct {
	ID         model.ID `yaml:"id"`
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	Multi      bool     `yaml:"multi"`
	Mandatory  bool     `yaml:"mandatory"`
	Operations string   `yaml:"operations"`
}

func (YAMLSource) Load(path string) ([]*ObjectDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc yamlObjectDef
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	def := &ObjectDefinition{ID: doc.ID, Name: doc.Name}
	if doc.Multi {
		def.MaxInstances = int(model.MaxID)
	} else {
		def.MaxInstances = 1
	}
	if doc.Mandatory {
		def.MinInstances = 1
	}
	for _, rx := range doc.Resources {
		res := &ResourceDefinition{
			ID:   rx.ID,
			Name: rx.Name,
			Kind: kindFromXML(rx.Type),
		}
		if rx.Multi {
			res.Array = true
			res.MaxInstances = int(model.MaxID)
		} else {
			res.MaxInstances = 1
		}
		if rx.Mandatory {
			res.MinInstances = 1
		}
		if strings.Contains(rx.Operations, "R") {
			res.Operations |= OpRead
		}
		if strings.Contains(rx.Operations, "W") {
			res.Operations |= OpWrite
		}
		if strings.Contains(rx.Operations, "E") {
			res.Operations |= OpExecute
		}
		def.resources = append(def.resources, res)
	}
	return []*ObjectDefinition{def}, nil
}

package model

// DefinitionFile is the root structure of a definition file. A file groups
// the workflows of one domain.
type DefinitionFile struct {
	Domain    string               `yaml:"domain"    json:"domain"`
	Version   string               `yaml:"version"   json:"version"`
	Workflows []WorkflowDefinition `yaml:"workflows" json:"workflows"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

package definition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXML = `<LWM2M>
  <Object>
    <Name>Test Object</Name>
    <ObjectID>3000</ObjectID>
    <MultipleInstances>Single</MultipleInstances>
    <Mandatory>Mandatory</Mandatory>
    <Resources>
      <Item ID="0">
        <Name>Label</Name>
        <Operations>RW</Operations>
        <MultipleInstances>Single</MultipleInstances>
        <Mandatory>Mandatory</Mandatory>
        <Type>String</Type>
      </Item>
    </Resources>
  </Object>
</LWM2M>`

const sampleYAML = `
id: 3001
name: Test YAML Object
multi: false
mandatory: true
resources:
  - id: 0
    name: Counter
    type: Integer
    multi: false
    mandatory: true
    operations: R
`

func TestXMLSourceLoadsObjectDefinition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "3000.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleXML), 0o644))

	defs, err := XMLSource{}.Load(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, model.ID(3000), defs[0].ID)
	assert.True(t, defs[0].Mandatory())
	res := defs[0].Resource(0)
	require.NotNil(t, res)
	assert.Equal(t, model.KindString, res.Kind)
	assert.True(t, res.Operations.Has(OpRead))
	assert.True(t, res.Operations.Has(OpWrite))
}

func TestYAMLSourceLoadsObjectDefinition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "3001.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	defs, err := YAMLSource{}.Load(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, model.ID(3001), defs[0].ID)
	res := defs[0].Resource(0)
	require.NotNil(t, res)
	assert.Equal(t, model.KindInteger, res.Kind)
	assert.True(t, res.Operations.Has(OpRead))
	assert.False(t, res.Operations.Has(OpWrite))
}

func TestLoadAllCombinesMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "3000.xml"), []byte(sampleXML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "3001.yaml"), []byte(sampleYAML), 0o644))

	defs, err := LoadAll(multiSource{}, dir)
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}

// multiSource dispatches to XMLSource or YAMLSource by extension, the way
// a real definition loader would; a test-only stand-in for that dispatch.
type multiSource struct{}

func (multiSource) Load(path string) ([]*ObjectDefinition, error) {
	if filepath.Ext(path) == ".yaml" {
		return YAMLSource{}.Load(path)
	}
	return XMLSource{}.Load(path)
}

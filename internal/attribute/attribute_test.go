package attribute

import (
	"testing"

	"github.com/ConnectivityFoundry/AwaLWM2M-sub001/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64    { return &v }
func f64(v float64) *float64 { return &v }

func TestValidateRejectsPMinAbovePMax(t *testing.T) {
	err := Validate(Set{PMin: i64(20), PMax: i64(10)}, true)
	assert.Error(t, err)
}

func TestValidateRejectsGTOnNonNumeric(t *testing.T) {
	err := Validate(Set{GT: f64(1)}, false)
	assert.Error(t, err)
}

func TestValidateRejectsLTNotBelowGT(t *testing.T) {
	err := Validate(Set{GT: f64(5), LT: f64(10)}, true)
	assert.Error(t, err)
}

func TestValidateRejectsNegativeST(t *testing.T) {
	err := Validate(Set{ST: f64(-1)}, true)
	assert.Error(t, err)
}

func TestValidateAcceptsWellFormedSet(t *testing.T) {
	err := Validate(Set{PMin: i64(5), PMax: i64(60), GT: f64(10), LT: f64(2), ST: f64(1)}, true)
	require.NoError(t, err)
}

func TestResolveInheritsFromObjectLevel(t *testing.T) {
	st := New()
	resourcePath := model.ResourcePath(3, 0, 7)
	objectPath := model.ObjectPath(3)
	st.Apply(1, objectPath, Set{PMin: i64(30)})

	r := st.Resolve(1, resourcePath, 0, 0)
	assert.Equal(t, int64(30), r.PMin)
}

func TestResolveResourceLevelOverridesObjectLevel(t *testing.T) {
	st := New()
	resourcePath := model.ResourcePath(3, 0, 7)
	objectPath := model.ObjectPath(3)
	st.Apply(1, objectPath, Set{PMin: i64(30)})
	st.Apply(1, resourcePath, Set{PMin: i64(5)})

	r := st.Resolve(1, resourcePath, 0, 0)
	assert.Equal(t, int64(5), r.PMin)
}

func TestResolveFallsBackToServerDefaults(t *testing.T) {
	st := New()
	r := st.Resolve(1, model.ResourcePath(3, 0, 7), 15, 120)
	assert.Equal(t, int64(15), r.PMin)
	assert.Equal(t, int64(120), r.PMax)
}

func TestApplyCancelClearsAttachmentPoint(t *testing.T) {
	st := New()
	path := model.ResourcePath(3, 0, 7)
	st.Apply(1, path, Set{PMin: i64(5)})
	st.Apply(1, path, Set{Cancel: true})

	r := st.Resolve(1, path, 0, 0)
	assert.Equal(t, int64(0), r.PMin)
}

func TestApplyPartialUpdateLeavesOtherFieldsAlone(t *testing.T) {
	st := New()
	path := model.ResourcePath(3, 0, 7)
	st.Apply(1, path, Set{PMin: i64(5), PMax: i64(60)})
	st.Apply(1, path, Set{PMin: i64(10)})

	r := st.Resolve(1, path, 0, 0)
	assert.Equal(t, int64(10), r.PMin)
	assert.Equal(t, int64(60), r.PMax)
}

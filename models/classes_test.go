package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassSets(t *testing.T) {
	assert.Len(t, YOLOClasses.Classes, 80)
	assert.Len(t, COCOClasses.Classes, 81)
	assert.Len(t, TFCOCOClasses.Classes, 91)

	assert.Equal(t, "person", LookupName(ModelFamilyYOLO, 0))
	assert.Equal(t, "cat", LookupName(ModelFamilyYOLO, 15))
	assert.Equal(t, "person", LookupName(ModelFamilyCOCO, 1))
	assert.Equal(t, "toothbrush", LookupName(ModelFamilyTF, 90))
	assert.Equal(t, "stop sign", LookupName(ModelFamilyTF, 13))
	assert.Equal(t, "class_12", LookupName(ModelFamilyTF, 12))
	assert.Equal(t, "class_200", LookupName(ModelFamilyYOLO, 200))
	assert.Equal(t, "", LookupName("unknown", 1))
}

func TestNames(t *testing.T) {
	set, err := ClassSet(ModelFamilyTF)
	require.NoError(t, err)
	names := set.Names()
	assert.Len(t, names, 80)
	assert.NotContains(t, names, background)

	_, err = ClassSet("nope")
	assert.Error(t, err)
}

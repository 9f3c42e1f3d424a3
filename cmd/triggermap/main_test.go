package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadExport(t *testing.T) {
	path := writeCSV(t, "TriggerName,Category,Priority,Informational/Actionable,Recommended Actions,Team,Department,Responsible Person\n"+
		"CPU load high,Performance,P1,Actionable,Check top processes,SAP Basis,IT,Jane Doe\n"+
		"Disk space warning,Capacity,P3,Informational,,Platform,IT,\n")

	mappings, err := readExport(path)
	require.NoError(t, err)
	require.Len(t, mappings, 2)

	assert.Equal(t, "CPU load high", mappings[0].TriggerName)
	assert.Equal(t, "P1", mappings[0].Priority)
	assert.Equal(t, "Check top processes", mappings[0].RecommendedAction)
	assert.Equal(t, "SAP Basis", mappings[0].Team)
	assert.Equal(t, "Jane Doe", mappings[0].ResponsiblePersons)

	assert.Equal(t, "Platform", mappings[1].Team)
	assert.Empty(t, mappings[1].RecommendedAction)
}

func TestReadExportRaggedRows(t *testing.T) {
	path := writeCSV(t, "Trigger Name,Team\n"+
		"CPU load high,SAP Basis,extra,columns\n"+
		"Short row\n")

	mappings, err := readExport(path)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, "SAP Basis", mappings[0].Team)
	assert.Empty(t, mappings[1].Team) // dropped later by ReplaceAll
}

func TestReadExportMissingColumns(t *testing.T) {
	path := writeCSV(t, "Foo,Bar\n1,2\n")
	_, err := readExport(path)
	assert.Error(t, err)
}

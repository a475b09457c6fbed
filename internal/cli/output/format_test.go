package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "table", input: "table", want: FormatTable},
		{name: "empty defaults to table", input: "", want: FormatTable},
		{name: "json", input: "json", want: FormatJSON},
		{name: "JSON uppercase", input: "JSON", want: FormatJSON},
		{name: "yaml", input: "yaml", want: FormatYAML},
		{name: "yml alias", input: "yml", want: FormatYAML},
		{name: "whitespace trimmed", input: "  table  ", want: FormatTable},
		{name: "invalid format", input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type device struct {
	Number int    `json:"number" yaml:"number"`
	Name   string `json:"name" yaml:"name"`
}

func TestPrint(t *testing.T) {
	devs := []device{{Number: 2, Name: "CDJ-2000nexus"}}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Print(&buf, FormatJSON, devs))
		assert.JSONEq(t, `[{"number": 2, "name": "CDJ-2000nexus"}]`, buf.String())
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Print(&buf, FormatYAML, devs))
		assert.Equal(t, "- number: 2\n  name: CDJ-2000nexus\n", buf.String())
	})

	t.Run("table needs tabular data", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Print(&buf, FormatTable, devs))
		assert.Contains(t, buf.String(), "name: CDJ-2000nexus")

		table := NewTable("Number", "Name")
		table.Add(2, "CDJ-2000nexus")
		buf.Reset()
		require.NoError(t, Print(&buf, FormatTable, table))
		assert.Contains(t, buf.String(), "NUMBER")
		assert.Contains(t, buf.String(), "CDJ-2000nexus")
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, Print(&bytes.Buffer{}, Format("xml"), devs))
	})
}

package api

import (
	"net/http"

	"github.com/salesql/salesql/internal/auth"
	"github.com/salesql/salesql/internal/catalog"
)

type schemaColumn struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	PrimaryKey    bool   `json:"primary_key,omitempty"`
	AutoIncrement bool   `json:"auto_increment,omitempty"`
	NotNull       bool   `json:"not_null"`
	Default       string `json:"default,omitempty"`
}

type schemaForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

type schemaTable struct {
	Name        string             `json:"name"`
	Columns     []schemaColumn     `json:"columns"`
	ForeignKeys []schemaForeignKey `json:"foreign_keys,omitempty"`
}

func handleSchema(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireRole(r.Context(), auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	defs := catalog.Tables()
	tables := make([]schemaTable, 0, len(defs))
	for _, def := range defs {
		table := schemaTable{Name: def.Name, Columns: make([]schemaColumn, 0, len(def.Columns))}
		for _, column := range def.Columns {
			table.Columns = append(table.Columns, schemaColumn{
				Name:          column.Name,
				Type:          column.Type,
				PrimaryKey:    column.PrimaryKey,
				AutoIncrement: column.AutoIncrement,
				NotNull:       column.NotNull,
				Default:       column.Default,
			})
		}
		for _, fk := range def.ForeignKeys {
			table.ForeignKeys = append(table.ForeignKeys, schemaForeignKey{Column: fk.Column, RefTable: fk.RefTable, RefColumn: fk.RefColumn})
		}
		tables = append(tables, table)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schema": catalog.Describe(),
		"tables": tables,
	})
}

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crucial707/juport/internal/notebook"
)

const paramsNotebook = `{
 "cells": [{"cell_type": "code", "metadata": {}, "outputs": [],
   "source": ["days = 7  # @param {type:\"slider\", min:1, max:30}\n", "df.to_csv(\"out.csv\")\n"]}],
 "metadata": {}, "nbformat": 4, "nbformat_minor": 5
}`

func newNotebookHandler(t *testing.T) *NotebookHandler {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sales", ".ipynb_checkpoints"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sales", "weekly.ipynb"), []byte(paramsNotebook), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sales", ".ipynb_checkpoints", "weekly-checkpoint.ipynb"), []byte(paramsNotebook), 0o644))
	store, err := notebook.NewStore(dir)
	require.NoError(t, err)
	return &NotebookHandler{Catalog: notebook.NewCatalog(store, discard), Log: discard}
}

func TestNotebookHandler_ListNotebooks(t *testing.T) {
	h := newNotebookHandler(t)
	rr := httptest.NewRecorder()
	h.ListNotebooks(rr, httptest.NewRequest("GET", "/notebooks", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Items []struct {
			Path string `json:"path"`
		} `json:"items"`
		Total int `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Equal(t, 1, resp.Total)
	require.Equal(t, "sales/weekly.ipynb", resp.Items[0].Path)
}

func TestNotebookHandler_Parameters(t *testing.T) {
	h := newNotebookHandler(t)
	rr := httptest.NewRecorder()
	h.Parameters(rr, httptest.NewRequest("GET", "/notebooks/parameters?path=sales/weekly.ipynb", nil))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Path   string `json:"path"`
		Params []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"params"`
		Outputs []struct {
			Name string `json:"name"`
		} `json:"outputs"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Equal(t, "sales/weekly.ipynb", resp.Path)
	require.Len(t, resp.Params, 1)
	require.Equal(t, "days", resp.Params[0].Name)
	require.Equal(t, "slider", resp.Params[0].Kind)
	require.Len(t, resp.Outputs, 1)
	require.Equal(t, "out.csv", resp.Outputs[0].Name)
}

func TestNotebookHandler_Parameters_Errors(t *testing.T) {
	h := newNotebookHandler(t)
	tests := []struct {
		query string
		want  int
	}{
		{"", http.StatusBadRequest},
		{"?path=../x.ipynb", http.StatusBadRequest},
		{"?path=/etc/passwd", http.StatusBadRequest},
		{"?path=missing.ipynb", http.StatusNotFound},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		h.Parameters(rr, httptest.NewRequest("GET", "/notebooks/parameters"+tt.query, nil))
		require.Equal(t, tt.want, rr.Code, tt.query)
	}
}

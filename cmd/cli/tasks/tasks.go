package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crucial707/juport/cmd/cli/client"
	"github.com/crucial707/juport/cmd/cli/output"
	"github.com/crucial707/juport/internal/models"
)

// InitTasks registers the manual run commands.
func InitTasks(rootCmd *cobra.Command) {
	rootCmd.AddCommand(runCmd(), statusCmd())
}

// parseVars turns k=v pairs into variables. Values that parse as JSON keep
// their type; anything else is a string.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid variable %q, want name=value", p)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			vars[k] = decoded
		} else {
			vars[k] = v
		}
	}
	return vars, nil
}

// buildForm writes the multipart body for POST /tasks.
func buildForm(notebook string, vars map[string]any, artifacts, files []string) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("notebook_path", notebook); err != nil {
		return nil, "", err
	}
	if len(vars) > 0 {
		data, err := json.Marshal(vars)
		if err != nil {
			return nil, "", err
		}
		if err := mw.WriteField("variables", string(data)); err != nil {
			return nil, "", err
		}
	}
	if len(artifacts) > 0 {
		var cfg models.ArtifactConfig
		for _, name := range artifacts {
			cfg.Files = append(cfg.Files, models.ExpectedFile{Name: name})
		}
		data, err := json.Marshal(cfg)
		if err != nil {
			return nil, "", err
		}
		if err := mw.WriteField("artifacts", string(data)); err != nil {
			return nil, "", err
		}
	}
	for _, p := range files {
		if err := addFile(mw, p); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

func addFile(mw *multipart.Writer, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := mw.CreateFormFile("files", filepath.Base(p))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func runCmd() *cobra.Command {
	var notebook string
	var vars, files, artifacts []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a notebook now with optional variables and input files",
		Long: `Start a manual execution. Variables override the notebook's declared
parameters; files are placed next to the notebook before it runs.

Example:
  juport run --notebook reports/weekly.ipynb --var days=30 --file data.csv --artifact summary.xlsx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseVars(vars)
			if err != nil {
				return err
			}
			body, contentType, err := buildForm(notebook, values, artifacts, files)
			if err != nil {
				return err
			}
			var exec models.Execution
			if err := client.Do(cmd.Context(), http.MethodPost, "/tasks", contentType, body, &exec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Execution %d started (key %s)\n", exec.ID, exec.Key)
			return nil
		},
	}

	cmd.Flags().StringVar(&notebook, "notebook", "", "Notebook path relative to the notebooks root (required)")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Variable as name=value (repeatable)")
	cmd.Flags().StringArrayVar(&files, "file", nil, "Input file to upload (repeatable)")
	cmd.Flags().StringArrayVar(&artifacts, "artifact", nil, "Expected output file name (repeatable)")
	cmd.MarkFlagRequired("notebook")
	return cmd
}

func statusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the execution pool status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st struct {
				Pending       int `json:"pending"`
				Running       int `json:"running"`
				MaxConcurrent int `json:"max_concurrent"`
			}
			if err := client.Do(cmd.Context(), http.MethodGet, "/tasks/status", "", nil, &st); err != nil {
				return err
			}
			if jsonOutput {
				return output.PrintJSON(cmd.OutOrStdout(), st)
			}
			output.RenderTable(cmd.OutOrStdout(), []string{"Running", "Pending", "Max concurrent"},
				[][]interface{}{{st.Running, st.Pending, st.MaxConcurrent}})
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")
	return cmd
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewWorkflowCmd создаёт группу команд для управления workflows.
func NewWorkflowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
	}

	cmd.AddCommand(
		newWorkflowListCmd(clientFn, outputFn),
		newWorkflowShowCmd(clientFn, outputFn),
		newWorkflowPublishCmd(clientFn, outputFn),
		newWorkflowVersionsCmd(clientFn, outputFn),
		newWorkflowDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

func newWorkflowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			workflows, err := client.ListWorkflows()
			if err != nil {
				return err
			}

			headers := []string{"NAME", "LATEST_VERSION", "UPDATED"}
			rows := make([][]string, len(workflows))
			for i, w := range workflows {
				rows[i] = []string{w.Name, strconv.Itoa(w.LatestVersion), w.UpdatedAt}
			}

			out.Print(headers, rows, workflows)
			return nil
		},
	}
}

func newWorkflowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show the latest workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			def, err := client.GetWorkflow(args[0])
			if err != nil {
				return err
			}

			// Определение всегда выводится как JSON: таблица
			// не передаёт вложенную структуру задач.
			out.JSON(def)
			return nil
		},
	}
}

func newWorkflowPublishCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish FILE",
		Short: "Publish a workflow definition from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			def, err := loadDefinition(args[0])
			if err != nil {
				return err
			}

			stored, err := client.PublishWorkflow(def)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow published: %s version %d", stored.Name, stored.Version))
			out.Print(
				[]string{"NAME", "VERSION", "TASKS"},
				[][]string{{stored.Name, strconv.Itoa(stored.Version), strconv.Itoa(len(stored.Tasks))}},
				stored,
			)
			return nil
		},
	}

	return cmd
}

func newWorkflowVersionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "versions NAME",
		Short: "List workflow versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			versions, err := client.ListVersions(args[0])
			if err != nil {
				return err
			}

			headers := []string{"NAME", "VERSION", "TASKS"}
			rows := make([][]string, len(versions))
			for i, v := range versions {
				rows[i] = []string{v.Name, strconv.Itoa(v.Version), strconv.Itoa(len(v.Tasks))}
			}

			out.Print(headers, rows, versions)
			return nil
		},
	}
}

func newWorkflowDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a workflow with all versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteWorkflow(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow deleted: %s", args[0]))
			return nil
		},
	}
}

// loadDefinition читает определение workflow из файла.
// YAML конвертируется в JSON, формат определяется расширением.
func loadDefinition(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml definition: %w", err)
		}
		jsonData, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("convert definition to json: %w", err)
		}
		return jsonData, nil
	case ".json":
		if !json.Valid(data) {
			return nil, fmt.Errorf("definition file %s is not valid json", path)
		}
		return json.RawMessage(data), nil
	default:
		return nil, fmt.Errorf("unsupported definition format %q, expected .yaml or .json", filepath.Ext(path))
	}
}

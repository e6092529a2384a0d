// Command generate-schema writes the JSON schema of the rodsnfs
// configuration file, for editor completion of config.yaml.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/marmos91/rodsnfs/pkg/config"
)

func main() {
	output := "config.schema.json"
	if len(os.Args) > 1 {
		output = os.Args[1]
	}
	if err := run(output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("JSON schema written to %s\n", output)
}

func run(output string) error {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		FieldNameTag:              "yaml",
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "rodsnfs Configuration"
	schema.Description = "Configuration of the rodsnfs NFS gateway"
	schema.Version = "1.0.0"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	return os.WriteFile(output, append(data, '\n'), 0644)
}

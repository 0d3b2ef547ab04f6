package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tyemirov/linebreaks/internal/render"
	"github.com/tyemirov/linebreaks/pkg/logging"
)

const (
	standardInputArgument   = "-"
	defaultDocumentTitle    = "document"
	renderedOutputMode      = 0o644
	fragmentSeparator       = "\n\n"
	logFieldOutput          = "output"
	logFieldInputs          = "inputs"
	logFieldBytes           = "bytes"
	logMessageWroteDocument = "wrote rendered output"
)

var errDocumentNeedsSingleInput = errors.New("document output takes a single input")

// RenderConfiguration is the validated configuration of the render command.
type RenderConfiguration struct {
	Inputs     []string
	Mode       render.Mode
	Document   bool
	Title      string
	OutputPath string
}

func newRenderCommand(resources *applicationResources) *cobra.Command {
	renderCommand := &cobra.Command{
		Use:   "render [file...]",
		Short: "Render text or Markdown files (or standard input) as HTML",
		Long: "Render converts blank-line separated text into <p> paragraphs and single newlines into <br>,\n" +
			"leaving <pre>...</pre> blocks exactly as written. Markdown files are rendered with GitHub flavored Markdown.",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return prepareRenderConfiguration(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd)
		},
	}

	renderFlags := pflag.NewFlagSet("render", pflag.ContinueOnError)
	configureRenderFlags(renderFlags, resources.configurationManager)
	renderCommand.Flags().AddFlagSet(renderFlags)

	return renderCommand
}

func configureRenderFlags(flagSet *pflag.FlagSet, configurationManager *viper.Viper) {
	flagSet.String(flagNameRenderMode, configurationManager.GetString(configKeyRenderMode), "Render mode (text or markdown); detected from the file extension when empty")
	flagSet.Bool(flagNameRenderDocument, configurationManager.GetBool(configKeyRenderDocument), "Emit a complete HTML document instead of a fragment")
	flagSet.String(flagNameRenderTitle, configurationManager.GetString(configKeyRenderTitle), "Document title (defaults to the file name)")
	flagSet.String(flagNameRenderOutput, configurationManager.GetString(configKeyRenderOutput), "Write output to this file instead of standard output")
	_ = configurationManager.BindPFlag(configKeyRenderMode, flagSet.Lookup(flagNameRenderMode))
	_ = configurationManager.BindPFlag(configKeyRenderDocument, flagSet.Lookup(flagNameRenderDocument))
	_ = configurationManager.BindPFlag(configKeyRenderTitle, flagSet.Lookup(flagNameRenderTitle))
	_ = configurationManager.BindPFlag(configKeyRenderOutput, flagSet.Lookup(flagNameRenderOutput))
}

func prepareRenderConfiguration(cmd *cobra.Command, args []string) error {
	resources, err := getApplicationResources(cmd)
	if err != nil {
		return err
	}
	configurationManager := resources.configurationManager

	inputs := make([]string, 0, len(args))
	for _, argument := range args {
		trimmedArgument := strings.TrimSpace(argument)
		if trimmedArgument == "" {
			continue
		}
		inputs = append(inputs, trimmedArgument)
	}
	if len(inputs) == 0 {
		inputs = append(inputs, standardInputArgument)
	}

	var mode render.Mode
	rawMode := strings.TrimSpace(configurationManager.GetString(configKeyRenderMode))
	if rawMode != "" {
		parsedMode, parseErr := render.ParseMode(rawMode)
		if parseErr != nil {
			return parseErr
		}
		mode = parsedMode
	}

	document := configurationManager.GetBool(configKeyRenderDocument)
	if document && len(inputs) > 1 {
		return fmt.Errorf("%w: got %d", errDocumentNeedsSingleInput, len(inputs))
	}

	renderConfiguration := RenderConfiguration{
		Inputs:     inputs,
		Mode:       mode,
		Document:   document,
		Title:      strings.TrimSpace(configurationManager.GetString(configKeyRenderTitle)),
		OutputPath: strings.TrimSpace(configurationManager.GetString(configKeyRenderOutput)),
	}
	cmd.SetContext(context.WithValue(cmd.Context(), contextKeyRenderConfiguration, renderConfiguration))
	return nil
}

func runRender(cmd *cobra.Command) error {
	resources, err := getApplicationResources(cmd)
	if err != nil {
		return err
	}
	renderConfigurationValue := cmd.Context().Value(contextKeyRenderConfiguration)
	if renderConfigurationValue == nil {
		return errors.New("render configuration not initialized")
	}
	renderConfiguration, ok := renderConfigurationValue.(RenderConfiguration)
	if !ok {
		return errors.New("render configuration has unexpected type")
	}
	documentRenderer, rendererErr := resources.renderer()
	if rendererErr != nil {
		return rendererErr
	}

	renderedParts := make([][]byte, 0, len(renderConfiguration.Inputs))
	for _, input := range renderConfiguration.Inputs {
		source, readErr := readRenderInput(cmd.InOrStdin(), input)
		if readErr != nil {
			return readErr
		}
		mode := resolveRenderMode(renderConfiguration.Mode, input)
		var rendered []byte
		var renderErr error
		if renderConfiguration.Document {
			rendered, renderErr = documentRenderer.Document(mode, resolveDocumentTitle(renderConfiguration.Title, input), source)
		} else {
			rendered, renderErr = documentRenderer.Fragment(mode, source)
		}
		if renderErr != nil {
			return fmt.Errorf("render %s: %w", input, renderErr)
		}
		renderedParts = append(renderedParts, rendered)
	}
	output := bytes.Join(renderedParts, []byte(fragmentSeparator))

	if renderConfiguration.OutputPath == "" {
		if _, writeErr := cmd.OutOrStdout().Write(output); writeErr != nil {
			return fmt.Errorf("write output: %w", writeErr)
		}
		return nil
	}
	if writeErr := os.WriteFile(renderConfiguration.OutputPath, output, renderedOutputMode); writeErr != nil {
		return fmt.Errorf("write output file: %w", writeErr)
	}
	resources.loggingService.Info(
		logMessageWroteDocument,
		logging.String(logFieldOutput, renderConfiguration.OutputPath),
		logging.Strings(logFieldInputs, renderConfiguration.Inputs),
		logging.Int(logFieldBytes, len(output)),
	)
	return nil
}

func readRenderInput(standardInput io.Reader, input string) ([]byte, error) {
	if input == standardInputArgument {
		source, readErr := io.ReadAll(standardInput)
		if readErr != nil {
			return nil, fmt.Errorf("read standard input: %w", readErr)
		}
		return source, nil
	}
	source, readErr := os.ReadFile(input)
	if readErr != nil {
		return nil, fmt.Errorf("read input: %w", readErr)
	}
	return source, nil
}

// resolveRenderMode falls back to text for standard input and unknown extensions.
func resolveRenderMode(configuredMode render.Mode, input string) render.Mode {
	if configuredMode != "" {
		return configuredMode
	}
	if input != standardInputArgument {
		if detectedMode, found := render.ModeForPath(input); found {
			return detectedMode
		}
	}
	return render.ModeText
}

func resolveDocumentTitle(configuredTitle string, input string) string {
	if configuredTitle != "" {
		return configuredTitle
	}
	if input == standardInputArgument {
		return defaultDocumentTitle
	}
	return render.TitleFromPath(input)
}

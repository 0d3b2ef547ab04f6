package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tyemirov/linebreaks/internal/render"
	"github.com/tyemirov/linebreaks/pkg/logging"
)

const (
	renderCommandName            = "render"
	standardInputSource          = "a\nb<pre>x\ny</pre>c"
	expectedStandardInputOutput  = "<p>a<br>b<pre>x\ny</pre>c</p>"
	textFileSource               = "first\r\nsecond\n\nthird"
	expectedTextFileFragment     = "<p>first<br>second</p>\n\n<p>third</p>"
	markdownFileSource           = "# Guide\n"
	expectedMarkdownFileFragment = "<h1>Guide</h1>"
)

func TestRenderCommandReadsStandardInput(t *testing.T) {
	output, err := executeTestCommand(t, standardInputSource, renderCommandName)
	if err != nil {
		t.Fatalf("render standard input: %v", err)
	}
	if output != expectedStandardInputOutput {
		t.Fatalf("expected %q, got %q", expectedStandardInputOutput, output)
	}
}

func TestRenderCommandJoinsFragmentsFromFiles(t *testing.T) {
	temporaryDirectory := t.TempDir()
	textPath := writeTestFile(t, temporaryDirectory, "notes.txt", textFileSource)
	markdownPath := writeTestFile(t, temporaryDirectory, "guide.md", markdownFileSource)

	output, err := executeTestCommand(t, "", renderCommandName, textPath, markdownPath)
	if err != nil {
		t.Fatalf("render files: %v", err)
	}
	if !strings.HasPrefix(output, expectedTextFileFragment+fragmentSeparator) {
		t.Fatalf("expected text fragment first, got %q", output)
	}
	if !strings.Contains(output, expectedMarkdownFileFragment) {
		t.Fatalf("expected markdown fragment, got %q", output)
	}
}

func TestRenderCommandModeFlagOverridesExtension(t *testing.T) {
	temporaryDirectory := t.TempDir()
	markdownPath := writeTestFile(t, temporaryDirectory, "guide.md", markdownFileSource)

	output, err := executeTestCommand(t, "", renderCommandName, "--mode", "text", markdownPath)
	if err != nil {
		t.Fatalf("render with mode flag: %v", err)
	}
	if output != "<p># Guide<br></p>" {
		t.Fatalf("expected text rendering of markdown source, got %q", output)
	}
}

func TestRenderCommandEmitsDocument(t *testing.T) {
	temporaryDirectory := t.TempDir()
	textPath := writeTestFile(t, temporaryDirectory, "notes.txt", textFileSource)

	output, err := executeTestCommand(t, "", renderCommandName, "--document", textPath)
	if err != nil {
		t.Fatalf("render document: %v", err)
	}
	if !strings.Contains(output, "<title>notes</title>") {
		t.Fatalf("expected title from file name, got %q", output)
	}
	if !strings.Contains(output, "<body>"+expectedTextFileFragment+"</body>") {
		t.Fatalf("expected fragment inside body, got %q", output)
	}

	titledOutput, titledErr := executeTestCommand(t, standardInputSource, renderCommandName, "--document", "--title", "Field Notes")
	if titledErr != nil {
		t.Fatalf("render titled document: %v", titledErr)
	}
	if !strings.Contains(titledOutput, "<title>Field Notes</title>") {
		t.Fatalf("expected explicit title, got %q", titledOutput)
	}
}

func TestRenderCommandWritesOutputFile(t *testing.T) {
	temporaryDirectory := t.TempDir()
	outputPath := filepath.Join(temporaryDirectory, "out.html")

	output, err := executeTestCommand(t, standardInputSource, renderCommandName, "--output", outputPath)
	if err != nil {
		t.Fatalf("render to file: %v", err)
	}
	if output != "" {
		t.Fatalf("expected nothing on standard output, got %q", output)
	}
	written, readErr := os.ReadFile(outputPath)
	if readErr != nil {
		t.Fatalf("read output file: %v", readErr)
	}
	if string(written) != expectedStandardInputOutput {
		t.Fatalf("expected %q, got %q", expectedStandardInputOutput, string(written))
	}
}

func TestRenderCommandRejectsInvalidInvocations(t *testing.T) {
	temporaryDirectory := t.TempDir()
	firstPath := writeTestFile(t, temporaryDirectory, "one.txt", "one")
	secondPath := writeTestFile(t, temporaryDirectory, "two.txt", "two")

	testCases := []struct {
		testName      string
		arguments     []string
		expectedError error
		expectedText  string
	}{
		{
			testName:      "DocumentWithSeveralInputs",
			arguments:     []string{renderCommandName, "--document", firstPath, secondPath},
			expectedError: errDocumentNeedsSingleInput,
		},
		{
			testName:      "UnknownMode",
			arguments:     []string{renderCommandName, "--mode", "rst", firstPath},
			expectedError: render.ErrUnsupportedMode,
		},
		{
			testName:     "MissingFile",
			arguments:    []string{renderCommandName, filepath.Join(temporaryDirectory, "missing.txt")},
			expectedText: "read input",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.testName, func(t *testing.T) {
			_, err := executeTestCommand(t, "", testCase.arguments...)
			if err == nil {
				t.Fatalf("expected error for %v", testCase.arguments)
			}
			if testCase.expectedError != nil && !errors.Is(err, testCase.expectedError) {
				t.Fatalf("expected %v, got %v", testCase.expectedError, err)
			}
			if testCase.expectedText != "" && !strings.Contains(err.Error(), testCase.expectedText) {
				t.Fatalf("expected %q in error, got %v", testCase.expectedText, err)
			}
		})
	}
}

func TestResolveRenderModeFallsBackToText(t *testing.T) {
	testCases := []struct {
		configuredMode render.Mode
		input          string
		expectedMode   render.Mode
	}{
		{configuredMode: render.ModeMarkdown, input: "notes.txt", expectedMode: render.ModeMarkdown},
		{input: "notes.txt", expectedMode: render.ModeText},
		{input: "guide.md", expectedMode: render.ModeMarkdown},
		{input: "letter.eml", expectedMode: render.ModeText},
		{input: standardInputArgument, expectedMode: render.ModeText},
	}

	for _, testCase := range testCases {
		if mode := resolveRenderMode(testCase.configuredMode, testCase.input); mode != testCase.expectedMode {
			t.Fatalf("%s: expected %s, got %s", testCase.input, testCase.expectedMode, mode)
		}
	}
}

func executeTestCommand(t *testing.T, standardInput string, arguments ...string) (string, error) {
	t.Helper()
	resources := newTestApplicationResources(t)
	rootCommand := newRootCommand(resources)
	var standardOutput bytes.Buffer
	rootCommand.SetIn(strings.NewReader(standardInput))
	rootCommand.SetOut(&standardOutput)
	rootCommand.SetErr(&bytes.Buffer{})
	rootCommand.SetArgs(arguments)
	executeErr := rootCommand.ExecuteContext(context.WithValue(context.Background(), contextKeyApplicationResources, resources))
	return standardOutput.String(), executeErr
}

func newTestApplicationResources(t *testing.T) *applicationResources {
	t.Helper()
	configDirectory := t.TempDir()
	return &applicationResources{
		configurationManager: newConfigurationManager(configDirectory),
		loggingService:       logging.NewTestService(logging.TypeConsole),
		defaultConfigDirPath: configDirectory,
	}
}

func writeTestFile(t *testing.T, directory string, name string, content string) string {
	t.Helper()
	filePath := filepath.Join(directory, name)
	if writeErr := os.WriteFile(filePath, []byte(content), 0o600); writeErr != nil {
		t.Fatalf("write file %s: %v", filePath, writeErr)
	}
	return filePath
}

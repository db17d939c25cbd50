package nodes

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/ahamdihussein-star/processforge/process"
)

// fileOperationExecutor implements the read/write/delete/list/exists/
// extract_text/generate_document operations of FILE_OPERATION, dispatching
// text extraction by MIME family the same way the corpus's document
// parsers do: extension-sniffed, one parser per family.
type fileOperationExecutor struct{}

func (fileOperationExecutor) Validate(node *process.ProcessNode) *process.Error {
	op := process.GetConfigString(node, "operation")
	switch op {
	case "read", "write", "delete", "list", "exists", "extract_text", "generate_document":
		return nil
	default:
		return process.ValidationError(process.CodeValidationError, fmt.Sprintf("FILE_OPERATION node has unknown operation %q", op))
	}
}

func (fileOperationExecutor) Execute(ctx *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	path, err := state.InterpolateString(process.GetConfigString(node, "path"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}

	switch process.GetConfigString(node, "operation") {
	case "read":
		return readFile(path)
	case "write":
		return writeFile(node, state, path)
	case "delete":
		return deleteFile(path)
	case "list":
		return listDir(path)
	case "exists":
		_, statErr := os.Stat(path)
		return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"exists": statErr == nil}}
	case "extract_text":
		return extractText(path)
	case "generate_document":
		return generateDocument(node, state, path)
	default:
		return process.NodeResult{Status: process.StatusFailed, Error: process.ValidationError(process.CodeValidationError, "unknown operation")}
	}
}

func readFile(path string) process.NodeResult {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return process.NodeResult{Status: process.StatusFailed, Error: process.NewError(process.CategoryResource, process.CodeFileNotFound, fmt.Sprintf("file not found: %s", path), nil)}
		}
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeInternalError, "failed to read file", err)}
	}
	return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"content": string(data), "size": len(data)}}
}

func writeFile(node *process.ProcessNode, state *process.State, path string) process.NodeResult {
	content, err := state.InterpolateString(process.GetConfigString(node, "content"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}
	if mkdirErr := os.MkdirAll(filepath.Dir(path), 0o755); mkdirErr != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeInternalError, "failed to create directory", mkdirErr)}
	}
	if writeErr := os.WriteFile(path, []byte(content), 0o644); writeErr != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeInternalError, "failed to write file", writeErr)}
	}
	return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"path": path, "size": len(content)}}
}

func deleteFile(path string) process.NodeResult {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return process.NodeResult{Status: process.StatusFailed, Error: process.NewError(process.CategoryResource, process.CodeFileNotFound, fmt.Sprintf("file not found: %s", path), nil)}
		}
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeInternalError, "failed to delete file", err)}
	}
	return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"deleted": true}}
}

func listDir(path string) process.NodeResult {
	entries, err := os.ReadDir(path)
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeInternalError, "failed to list directory", err)}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"entries": names, "count": len(names)}}
}

// extractText dispatches by file extension across the text/CSV/PDF/Word/
// Excel MIME families. An empty extraction result is itself a classified
// failure: a parser that ran but found nothing is as unusable downstream
// as one that errored outright.
func extractText(path string) process.NodeResult {
	ext := strings.ToLower(filepath.Ext(path))

	var content string
	var err error

	switch ext {
	case ".txt", ".md", ".csv", ".json", ".yaml", ".yml":
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			err = readErr
		} else {
			content = string(data)
		}
	case ".pdf":
		content, err = extractPDF(path)
	case ".docx":
		content, err = extractDocx(path)
	case ".xlsx":
		content, err = extractXlsx(path)
	default:
		return process.NodeResult{Status: process.StatusFailed, Error: process.NewError(process.CategoryBusinessLogic, process.CodeExtractionFailed, fmt.Sprintf("unsupported file type for extraction: %s", ext), nil)}
	}

	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeExtractionFailed, "text extraction failed", err)}
	}
	if strings.TrimSpace(content) == "" {
		return process.NodeResult{Status: process.StatusFailed, Error: process.NewError(process.CategoryBusinessLogic, process.CodeExtractionFailed, "extraction produced no text content", nil)}
	}

	return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"content": content, "length": len(content)}}
}

func extractPDF(path string) (string, error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		return "", statErr
	}
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", err
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, perr := page.GetPlainText(nil)
		if perr != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func extractDocx(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", err
	}
	defer doc.Close()
	return doc.Editable().GetContent(), nil
}

func extractXlsx(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var parts []string
	for _, sheet := range f.GetSheetList() {
		rows, rerr := f.GetRows(sheet)
		if rerr != nil {
			continue
		}
		var b strings.Builder
		b.WriteString("--- " + sheet + " ---\n")
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n\n"), nil
}

// generateDocument writes structured content to a new file in the
// requested format. Only the plain-text family is rendered directly;
// richer formats (docx/xlsx/pdf/pptx) are not generated and return an
// UNSUPPORTED_STORAGE configuration error rather than a corrupt file.
func generateDocument(node *process.ProcessNode, state *process.State, path string) process.NodeResult {
	format := process.GetConfigStringDefault(node, "format", "txt")
	title := process.GetConfigString(node, "title")

	content, err := state.InterpolateString(process.GetConfigString(node, "content"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}

	if format != "txt" {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ConfigurationError(process.CodeUnsupportedStorage, fmt.Sprintf("document generation format %q requires a template-based generator not configured for this process", format))}
	}

	if mkdirErr := os.MkdirAll(filepath.Dir(path), 0o755); mkdirErr != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeInternalError, "failed to create directory", mkdirErr)}
	}
	if writeErr := os.WriteFile(path, []byte(content), 0o644); writeErr != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeInternalError, "failed to write document", writeErr)}
	}

	info, _ := os.Stat(path)
	var size int64
	if info != nil {
		size = info.Size()
	}
	return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{
		"title": title, "format": format, "path": path, "filename": filepath.Base(path), "size": size,
	}}
}

// RegisterFile adds FILE_OPERATION to reg.
func RegisterFile(reg *process.ExecutorRegistry) error {
	return reg.Register(process.NodeFileOperation, func() process.Executor { return fileOperationExecutor{} })
}

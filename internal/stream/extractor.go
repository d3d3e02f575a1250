package stream

import (
	"net/url"
	"path"
	"strings"

	"loom/internal/protocol"
	"loom/internal/types"
)

// Tool names whose file content travels in the arguments rather than the
// result payload.
var writeStyleTools = map[string]struct{}{
	"write":             {},
	"write_file":        {},
	"create_file":       {},
	"str_replace_editor": {},
}

// mergeToolResultFiles folds file artifacts found in one tool result into the
// table: a top-level files map, a nested result.files map, or an images
// array. Additive by path; existing entries are only ever overwritten, never
// removed.
func mergeToolResultFiles(dst map[string]types.FileItem, result any) {
	payload, ok := result.(map[string]any)
	if !ok {
		return
	}
	if files, ok := payload["files"].(map[string]any); ok {
		mergeFileEntries(dst, files)
	}
	if nested, ok := payload["result"].(map[string]any); ok {
		if files, ok := nested["files"].(map[string]any); ok {
			mergeFileEntries(dst, files)
		}
	}
	if images, ok := payload["images"].([]any); ok {
		for _, entry := range images {
			if image, ok := entry.(map[string]any); ok {
				mergeImageEntry(dst, image)
			}
		}
	}
}

func mergeFileEntries(dst map[string]types.FileItem, entries map[string]any) {
	for filePath, value := range entries {
		filePath = strings.TrimSpace(filePath)
		if filePath == "" {
			continue
		}
		if item, ok := fileItemFromValue(filePath, value); ok {
			dst[filePath] = item
		}
	}
}

func fileItemFromValue(filePath string, value any) (types.FileItem, bool) {
	switch v := value.(type) {
	case string:
		return types.FileItem{Path: filePath, Content: v, Editable: true}, true
	case map[string]any:
		item := types.FileItem{
			Path:        filePath,
			Content:     stringValue(v["content"]),
			DownloadURL: firstString(v, "downloadUrl", "download_url", "url"),
			Language:    firstString(v, "language", "lang"),
			OldContent:  firstString(v, "oldContent", "old_content"),
			FileSize:    int64Value(v, "fileSize", "file_size", "size"),
			LineStart:   intValue(v, "lineStart", "line_start"),
			LineEnd:     intValue(v, "lineEnd", "line_end"),
		}
		item.IsBinary = item.DownloadURL != "" || boolValue(v, "isBinary", "is_binary", "binary")
		item.Editable = !item.IsBinary
		if item.IsBinary {
			item.Content = ""
		}
		return item, true
	default:
		return types.FileItem{}, false
	}
}

func mergeImageEntry(dst map[string]types.FileItem, image map[string]any) {
	download := firstString(image, "url", "downloadUrl", "download_url")
	filePath := firstString(image, "path", "filename", "name")
	if filePath == "" {
		filePath = pathFromURL(download)
	}
	if filePath == "" || download == "" {
		return
	}
	dst[filePath] = types.FileItem{
		Path:        filePath,
		DownloadURL: download,
		IsBinary:    true,
		Editable:    false,
		FileSize:    int64Value(image, "fileSize", "file_size", "size"),
	}
}

func pathFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Path == "" {
		return ""
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// mergeWriteToolFiles covers write-style tools: the created file's path and
// content live in the call arguments, not the result.
func mergeWriteToolFiles(dst map[string]types.FileItem, call types.ToolCall) {
	if _, ok := writeStyleTools[strings.ToLower(strings.TrimSpace(call.Name))]; !ok {
		return
	}
	filePath := firstString(call.Args, "path", "file_path", "filename")
	if filePath == "" {
		return
	}
	content := firstString(call.Args, "content", "file_text", "text")
	item := types.FileItem{Path: filePath, Content: content, Editable: true}
	if existing, ok := dst[filePath]; ok && content == "" {
		// An argument-only sighting without content must not wipe a richer
		// entry extracted earlier.
		item.Content = existing.Content
	}
	dst[filePath] = item
}

// mergeMessageArtifacts scans one historical message's completed tool calls,
// used on full-state load where no live completion events will replay.
func mergeMessageArtifacts(dst map[string]types.FileItem, message types.Message) {
	for _, call := range message.ToolCalls {
		if call.Result != nil {
			mergeToolResultFiles(dst, call.Result)
		}
		mergeWriteToolFiles(dst, call)
	}
}

// applyFileOperation is the one path that removes entries: an explicit
// delete. Everything else upserts.
func applyFileOperation(dst map[string]types.FileItem, ev *protocol.FileOperationEvent) {
	if ev.Operation == types.FileOperationDelete {
		delete(dst, ev.Path)
		return
	}
	item := types.FileItem{
		Path:        ev.Path,
		Content:     ev.Content,
		DownloadURL: ev.DownloadURL,
		Language:    ev.Language,
		OldContent:  ev.OldContent,
		FileSize:    ev.FileSize,
		LineStart:   ev.LineStart,
		LineEnd:     ev.LineEnd,
	}
	item.IsBinary = ev.IsBinary || ev.DownloadURL != ""
	item.Editable = !item.IsBinary
	if item.IsBinary {
		item.Content = ""
	}
	if ev.Operation == types.FileOperationRead {
		if existing, ok := dst[ev.Path]; ok && item.Content == "" {
			item.Content = existing.Content
		}
	}
	dst[ev.Path] = item
}

func firstString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := data[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func intValue(data map[string]any, keys ...string) int {
	return int(int64Value(data, keys...))
}

func int64Value(data map[string]any, keys ...string) int64 {
	for _, key := range keys {
		if value, ok := data[key].(float64); ok {
			return int64(value)
		}
	}
	return 0
}

func boolValue(data map[string]any, keys ...string) bool {
	for _, key := range keys {
		if value, ok := data[key].(bool); ok {
			return value
		}
	}
	return false
}

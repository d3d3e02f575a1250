package types

type FileItem struct {
	Path        string `json:"path"`
	Content     string `json:"content,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Language    string `json:"language,omitempty"`
	Editable    bool   `json:"editable"`
	IsBinary    bool   `json:"isBinary,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	OldContent  string `json:"oldContent,omitempty"`
	LineStart   int    `json:"lineStart,omitempty"`
	LineEnd     int    `json:"lineEnd,omitempty"`
}

func CloneFileItem(in FileItem) FileItem {
	return in
}

func CloneFileMap(in map[string]FileItem) map[string]FileItem {
	if in == nil {
		return nil
	}
	out := make(map[string]FileItem, len(in))
	for path, item := range in {
		out[path] = item
	}
	return out
}

package entity

// Document is one invoice file handed to the pipeline.
type Document struct {
	Path        string `json:"path"`
	Format      string `json:"format"`       // constants.PDF | constants.IMAGE
	ContentHash string `json:"content_hash"` // sha256 of the file bytes, hex
	Size        int64  `json:"size"`
	TextLayer   string `json:"-"` // embedded PDF text, when present
}

// PageImage is one rasterized page fed to the numeric extractor.
type PageImage struct {
	Path string
	Page int
}

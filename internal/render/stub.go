package render

import "context"

// Stub is a programmable Renderer for tests and render-disabled deployments.
type Stub struct {
	ScreenshotFn func(ctx context.Context, url string, opts ScreenshotOptions) ([]byte, error)
	PDFFn        func(ctx context.Context, url string, opts PDFOptions) ([]byte, error)
	InspectFn    func(ctx context.Context, url string) (PageInfo, error)
}

// Screenshot delegates to ScreenshotFn, returning an empty artifact when
// unset.
func (s *Stub) Screenshot(ctx context.Context, url string, opts ScreenshotOptions) ([]byte, error) {
	if s.ScreenshotFn != nil {
		return s.ScreenshotFn(ctx, url, opts)
	}
	return []byte{}, nil
}

// PDF delegates to PDFFn.
func (s *Stub) PDF(ctx context.Context, url string, opts PDFOptions) ([]byte, error) {
	if s.PDFFn != nil {
		return s.PDFFn(ctx, url, opts)
	}
	return []byte{}, nil
}

// Inspect delegates to InspectFn.
func (s *Stub) Inspect(ctx context.Context, url string) (PageInfo, error) {
	if s.InspectFn != nil {
		return s.InspectFn(ctx, url)
	}
	return PageInfo{}, nil
}

package audit

import "context"

// Extractor pulls one request attribute from the context.
type Extractor func(context.Context) (string, bool)

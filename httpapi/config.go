package httpapi

// Config defines HTTP API settings. The detection knobs are served back to
// clients on /api/config so content scripts honor the daemon's tuning.
type Config struct {
	Addr          string
	EventHistory  int
	MinFormFields int
	DebounceMs    int
	HighlightMs   int
}

package framing

// DrainAll repeatedly extracts messages, calling out for each one, until
// the buffer has no complete message left. Every message passed to out
// has been consumed from the buffer; out returns false to signal
// backpressure (its bounded destination is now full), and DrainAll then
// stops without extracting further, so the messages not yet extracted
// remain buffered for the next ExtractOne call. If the buffer grows past MaxFrameBytes without any
// extractable message, the buffer is cleared and ErrBufferOverflow is
// returned — the caller must close the connection.
func (e *Extractor) DrainAll(out func([]byte) bool) error {
	for {
		msg, ok := e.ExtractOne()
		if !ok {
			if len(e.buf) > MaxFrameBytes {
				e.buf = nil
				return ErrBufferOverflow
			}
			return nil
		}
		if !out(msg) {
			return nil
		}
	}
}

// CollectAll extracts up to max messages into a new slice, stopping
// early (without error) once max is reached or the buffer runs dry.
func (e *Extractor) CollectAll(max int) ([][]byte, error) {
	out := make([][]byte, 0, max)
	err := e.DrainAll(func(msg []byte) bool {
		out = append(out, msg)
		return len(out) < max
	})
	return out, err
}

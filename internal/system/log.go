package system

// Log is the logging surface library packages write to. *ui.Logger satisfies it.
type Log interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warning(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// NopLog discards everything.
var NopLog Log = nopLog{}

type nopLog struct{}

func (nopLog) Debug(string, ...interface{})   {}
func (nopLog) Info(string, ...interface{})    {}
func (nopLog) Warning(string, ...interface{}) {}
func (nopLog) Error(string, ...interface{})   {}

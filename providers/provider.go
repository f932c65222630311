package providers

import (
	"context"
	"errors"
	"fmt"

	"linkrec/models"
)

// Provider ist das Interface, das jede Quelle für Link-Empfehlungen implementieren muss.
type Provider interface {
	// Get liefert eine Kandidaten-Empfehlung für den Artikel. Fehler sind in der Regel *Failure.
	Get(ctx context.Context, title string) (*models.Recommendation, error)
}

// Severity unterscheidet "keine Empfehlung" von "Dienst nicht nutzbar".
type Severity int

const (
	// SeverityWarning: für diesen Artikel gibt es keine Empfehlung. Kein Fehler im eigentlichen Sinne.
	SeverityWarning Severity = iota
	// SeverityFatal: der Dienst konnte nicht sinnvoll abgefragt werden.
	SeverityFatal
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "fatal"
}

// Failure ist der Status, mit dem ein Provider keine Empfehlung liefert.
type Failure struct {
	Severity Severity
	Message  string
	Err      error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Severity, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Severity, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Warning erzeugt einen nicht-fatalen Status.
func Warning(format string, args ...any) *Failure {
	return &Failure{Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)}
}

// Fatal erzeugt einen fatalen Status mit Ursache.
func Fatal(err error, format string, args ...any) *Failure {
	return &Failure{Severity: SeverityFatal, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsWarning meldet, ob err ein nicht-fataler Provider-Status ist.
func IsWarning(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Severity == SeverityWarning
}

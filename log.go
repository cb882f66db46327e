package sfs

import "github.com/sirupsen/logrus"

// log is the package-level logger used across the core. Callers embedding
// this package can redirect or silence it with SetLogger; the default
// writes nothing below Warn level so a mounted filesystem stays quiet
// unless something goes wrong.
var log = func() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}()

// SetLogger replaces the logger used by the core, so a host integration
// layer can route core diagnostics through its own logrus instance (e.g.
// to add a per-mount session field). A nil logger is ignored.
func SetLogger(l *logrus.Logger) {
	if l != nil {
		log = l
	}
}

package elblog

import (
	"strings"
	"sync"

	"github.com/ua-parser/uap-go/uaparser"
)

// Other is the family reported for user agents no signature recognises.
const Other = "Other"

// Classifier maps a raw user-agent string to browser and OS families.
type Classifier interface {
	Classify(userAgent string) (browser, os string)
}

// UAParser classifies user agents with the ua-parser signature set.
type UAParser struct {
	p *uaparser.Parser
}

var (
	defaultUAOnce sync.Once
	defaultUA     *UAParser
)

// DefaultClassifier returns a shared UAParser built from the embedded signatures.
// Compiling the signature set is expensive, so it happens once per process.
func DefaultClassifier() *UAParser {
	defaultUAOnce.Do(func() {
		defaultUA = &UAParser{p: uaparser.NewFromSaved()}
	})
	return defaultUA
}

func (u *UAParser) Classify(userAgent string) (string, string) {
	c := u.p.Parse(userAgent)

	browser, os := Other, Other
	if c.UserAgent != nil {
		browser = family(c.UserAgent.Family)
	}
	if c.Os != nil {
		os = family(c.Os.Family)
	}
	return browser, os
}

func family(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return Other
	}
	return s
}

package apexunitlib

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/openshift/apex-test-runner/pkg/apexunit/apexunitapi"
	"github.com/openshift/apex-test-runner/pkg/results"
)

// ToolingClassLister discovers classes of the org's own namespace through the
// Tooling API, which exposes the symbol table and therefore the @IsTest marker.
type ToolingClassLister struct {
	conn apexunitapi.Connection

	// NamePrefixes restrict discovery to classes whose name matches one of the
	// prefixes. A '*' matches any run of characters.
	NamePrefixes []string
	// ClassNames restrict discovery to the listed classes.
	ClassNames []string
}

var _ apexunitapi.ClassLister = &ToolingClassLister{}

func NewToolingClassLister(conn apexunitapi.Connection, namePrefixes, classNames []string) *ToolingClassLister {
	return &ToolingClassLister{conn: conn, NamePrefixes: namePrefixes, ClassNames: classNames}
}

type classRecord struct {
	ID          string `json:"Id"`
	Name        string `json:"Name"`
	SymbolTable *struct {
		TableDeclaration *struct {
			Modifiers []string `json:"modifiers"`
		} `json:"tableDeclaration"`
	} `json:"SymbolTable"`
}

// Query renders the SOQL used for discovery.
func (l *ToolingClassLister) Query() string {
	var filters []string
	for _, prefix := range l.NamePrefixes {
		pattern := strings.ReplaceAll(apexunitapi.EscapeSOQL(prefix), "*", "%")
		if !strings.HasSuffix(pattern, "%") {
			pattern += "%"
		}
		filters = append(filters, fmt.Sprintf("Name LIKE '%s'", pattern))
	}
	if len(l.ClassNames) > 0 {
		filters = append(filters, fmt.Sprintf("Name IN (%s)", apexunitapi.QuoteIDs(sets.List(sets.New(l.ClassNames...)))))
	}
	query := "SELECT Id, Name, SymbolTable FROM ApexClass WHERE NamespacePrefix = null"
	if len(filters) > 0 {
		query += " AND (" + strings.Join(filters, " OR ") + ")"
	}
	return query + " ORDER BY Name"
}

func (l *ToolingClassLister) ListClasses(ctx context.Context) ([]apexunitapi.ApexClass, error) {
	result, err := l.conn.ToolingQuery(ctx, l.Query())
	if err != nil {
		return nil, fmt.Errorf("could not list apex classes: %w", err)
	}
	records, err := apexunitapi.DecodeRecords[classRecord](result)
	if err != nil {
		return nil, results.ForReason(results.ReasonTransport).WithError(err).Errorf("could not decode apex classes: %v", err)
	}
	classes := make([]apexunitapi.ApexClass, 0, len(records))
	for _, record := range records {
		class := apexunitapi.ApexClass{ID: record.ID, Name: record.Name}
		if record.SymbolTable == nil {
			logrus.WithField("class", record.Name).Debug("Class has no symbol table, it may not compile.")
		} else if record.SymbolTable.TableDeclaration != nil {
			class.Modifiers = record.SymbolTable.TableDeclaration.Modifiers
		}
		classes = append(classes, class)
	}
	if missing := sets.New(l.ClassNames...).Difference(sets.New(classNamesOf(classes)...)); missing.Len() > 0 {
		logrus.WithField("classes", sets.List(missing)).Warn("Some classes listed in manifest files do not exist in the org.")
	}
	return classes, nil
}

func classNamesOf(classes []apexunitapi.ApexClass) []string {
	names := make([]string, 0, len(classes))
	for _, class := range classes {
		names = append(names, class.Name)
	}
	return names
}

// ReadManifests reads class names from manifest files: one name per line,
// blank lines and lines starting with '#' are ignored.
func ReadManifests(fs afero.Fs, paths ...string) ([]string, error) {
	var names []string
	for _, path := range paths {
		raw, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, results.ForReason(results.ReasonConfiguration).WithError(err).Errorf("could not read manifest file %s: %v", path, err)
		}
		scanner := bufio.NewScanner(bytes.NewReader(raw))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			names = append(names, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, results.ForReason(results.ReasonConfiguration).WithError(err).Errorf("could not parse manifest file %s: %v", path, err)
		}
	}
	return names, nil
}

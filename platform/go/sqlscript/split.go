// Package sqlscript splits MySQL scripts into individually executable statements.
//
// The scanner understands quoted strings and identifiers, line and block
// comments, executable comments (/*! ... */), DELIMITER directives and
// BEGIN ... END bodies of stored routines, so a terminator inside any of those
// never ends a statement.
package sqlscript

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// DefaultDelimiter terminates statements until a DELIMITER directive changes it.
const DefaultDelimiter = ";"

// ErrUnterminated is returned when a quote or block comment is still open at end of input.
var ErrUnterminated = errors.New("unterminated literal or comment")

// Statement is one executable statement and the 1-based line it starts on.
type Statement struct {
	SQL  string
	Line int
}

// Split breaks script into statements. Comments outside executable comments are dropped,
// delimiter directives are consumed, and empty statements are skipped.
func Split(script string) ([]Statement, error) {
	s := &scanner{src: script, delimiter: DefaultDelimiter, line: 1}
	return s.run()
}

// MustSplit is Split for embedded scripts known to be well formed.
func MustSplit(script string) []Statement {
	stmts, err := Split(script)
	if err != nil {
		panic(err)
	}
	return stmts
}

type scanner struct {
	src       string
	pos       int
	line      int
	delimiter string

	buf       strings.Builder
	started   bool
	startLine int
	words     int
	depth     int // open BEGIN/CASE blocks inside a routine body
	routine   bool
	out       []Statement
}

// routineHeaderWords bounds how far into a statement the routine keyword is searched for.
const routineHeaderWords = 8

func (s *scanner) run() ([]Statement, error) {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if (c == 'D' || c == 'd') && s.atLineStart() && s.directive() {
			continue
		}

		switch {
		case c == '\'' || c == '"' || c == '`':
			if err := s.quoted(c); err != nil {
				return nil, err
			}
		case c == '#':
			s.skipLine()
		case c == '-' && s.hasPrefix("--") && s.dashCommentStart():
			s.skipLine()
		case c == '/' && s.hasPrefix("/*!"):
			if err := s.executableComment(); err != nil {
				return nil, err
			}
		case c == '/' && s.hasPrefix("/*"):
			if err := s.skipBlockComment(); err != nil {
				return nil, err
			}
		case s.hasPrefix(s.delimiter) && (s.depth == 0 || s.delimiter != DefaultDelimiter):
			s.pos += len(s.delimiter)
			s.flush()
		case isWordStart(c) && !s.prevIsWord():
			s.word()
		default:
			s.emit(c)
		}
	}
	s.flush()
	return s.out, nil
}

func (s *scanner) mark() {
	if !s.started {
		s.started = true
		s.startLine = s.line
	}
}

func (s *scanner) emit(c byte) {
	if !unicode.IsSpace(rune(c)) {
		s.mark()
	}
	if c == '\n' {
		s.line++
	}
	s.buf.WriteByte(c)
	s.pos++
}

// emitString copies a token that starts with a non-space byte.
func (s *scanner) emitString(v string) {
	s.mark()
	s.line += strings.Count(v, "\n")
	s.buf.WriteString(v)
	s.pos += len(v)
}

func (s *scanner) flush() {
	stmt := strings.TrimSpace(s.buf.String())
	if stmt != "" {
		s.out = append(s.out, Statement{SQL: stmt, Line: s.startLine})
	}
	s.buf.Reset()
	s.started = false
	s.words = 0
	s.depth = 0
	s.routine = false
}

func (s *scanner) hasPrefix(p string) bool {
	return strings.HasPrefix(s.src[s.pos:], p)
}

func (s *scanner) atLineStart() bool {
	for i := s.pos - 1; i >= 0; i-- {
		switch s.src[i] {
		case ' ', '\t', '\r':
			continue
		case '\n':
			return true
		default:
			return false
		}
	}
	return true
}

// directive consumes a "DELIMITER <token>" line. Only honoured between statements.
func (s *scanner) directive() bool {
	if s.started {
		return false
	}
	rest := s.src[s.pos:]
	const keyword = "DELIMITER"
	if len(rest) <= len(keyword) || !strings.EqualFold(rest[:len(keyword)], keyword) {
		return false
	}
	if c := rest[len(keyword)]; c != ' ' && c != '\t' {
		return false
	}
	end := strings.IndexByte(rest, '\n')
	lineText := rest
	if end >= 0 {
		lineText = rest[:end]
	}
	token := strings.TrimSpace(lineText[len(keyword):])
	if token == "" {
		return false
	}
	s.delimiter = token
	s.buf.Reset()
	s.pos += len(lineText)
	if s.pos < len(s.src) && s.src[s.pos] == '\n' {
		s.pos++
		s.line++
	}
	return true
}

func (s *scanner) quoted(q byte) error {
	start := s.line
	s.emit(q)
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c == '\\' && q != '`' && s.pos+1 < len(s.src) {
			s.emit(c)
			s.emit(s.src[s.pos])
			continue
		}
		s.emit(c)
		if c == q {
			// doubled quote is an escaped quote
			if s.pos < len(s.src) && s.src[s.pos] == q {
				s.emit(q)
				continue
			}
			return nil
		}
	}
	return fmt.Errorf("line %d: %w", start, ErrUnterminated)
}

// dashCommentStart reports whether "--" opens a comment; MySQL requires whitespace or end of input after it.
func (s *scanner) dashCommentStart() bool {
	if s.pos+2 >= len(s.src) {
		return true
	}
	next := s.src[s.pos+2]
	return next == ' ' || next == '\t' || next == '\n' || next == '\r'
}

func (s *scanner) skipLine() {
	for s.pos < len(s.src) && s.src[s.pos] != '\n' {
		s.pos++
	}
}

func (s *scanner) skipBlockComment() error {
	start := s.line
	end := strings.Index(s.src[s.pos+2:], "*/")
	if end < 0 {
		return fmt.Errorf("line %d: %w", start, ErrUnterminated)
	}
	body := s.src[s.pos : s.pos+2+end+2]
	s.line += strings.Count(body, "\n")
	s.pos += len(body)
	if s.buf.Len() > 0 {
		s.buf.WriteByte(' ')
	}
	return nil
}

func (s *scanner) executableComment() error {
	start := s.line
	end := strings.Index(s.src[s.pos+3:], "*/")
	if end < 0 {
		return fmt.Errorf("line %d: %w", start, ErrUnterminated)
	}
	s.emitString(s.src[s.pos : s.pos+3+end+2])
	return nil
}

func (s *scanner) prevIsWord() bool {
	return s.pos > 0 && isWordChar(s.src[s.pos-1])
}

// word copies one bare word and tracks compound-statement depth for routine definitions.
func (s *scanner) word() {
	end := s.pos
	for end < len(s.src) && isWordChar(s.src[end]) {
		if end > s.pos && strings.HasPrefix(s.src[end:], s.delimiter) {
			break
		}
		end++
	}
	w := strings.ToUpper(s.src[s.pos:end])
	s.emitString(s.src[s.pos:end])
	s.words++

	if !s.routine {
		if s.words <= routineHeaderWords {
			s.routine = s.isRoutineHeader()
		}
		return
	}
	switch w {
	case "BEGIN", "CASE":
		s.depth++
	case "END":
		switch strings.ToUpper(s.peekWord()) {
		case "IF", "LOOP", "WHILE", "REPEAT":
		default:
			if s.depth > 0 {
				s.depth--
			}
		}
	}
}

func (s *scanner) peekWord() string {
	i := s.pos
	for i < len(s.src) && (s.src[i] == ' ' || s.src[i] == '\t' || s.src[i] == '\r' || s.src[i] == '\n') {
		i++
	}
	j := i
	for j < len(s.src) && isWordChar(s.src[j]) {
		if j > i && strings.HasPrefix(s.src[j:], s.delimiter) {
			break
		}
		j++
	}
	return s.src[i:j]
}

// isRoutineHeader reports whether the buffered text opens a stored routine, trigger or event.
func (s *scanner) isRoutineHeader() bool {
	fields := strings.Fields(strings.ToUpper(s.buf.String()))
	if len(fields) < 2 || fields[0] != "CREATE" {
		return false
	}
	for _, f := range fields[1:] {
		switch f {
		case "PROCEDURE", "FUNCTION", "TRIGGER", "EVENT":
			return true
		case "TABLE", "VIEW", "INDEX", "DATABASE", "SCHEMA", "USER":
			return false
		}
	}
	return false
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordChar(c byte) bool {
	return isWordStart(c) || c == '$' || (c >= '0' && c <= '9')
}

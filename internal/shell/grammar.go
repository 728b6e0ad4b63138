package shell

import (
	"github.com/alecthomas/participle"
	"github.com/alecthomas/participle/lexer"
)

type (
	command struct {
		Open       *openCmd     `(  "OPEN" @@`
		Close      *minorArg    ` | "CLOSE" @@`
		Write      *writeCmd    ` | "WRITE" @@`
		Read       *readCmd     ` | "READ" @@`
		Dump       *minorArg    ` | "DUMP" @@`
		Trim       *minorArg    ` | "TRIM" @@`
		Defaults   *defaultsCmd ` | "DEFAULTS" @@`
		Stat       bool         ` | @"STAT"`
		StatMinors []int        `   { @Int }`
		List       bool         ` | @"LIST" )`
	}

	minorArg struct {
		Minor int `@Int`
	}

	openCmd struct {
		Minor int    `@Int`
		Mode  string `@("RDONLY"|"WRONLY"|"RDWR")?`
	}

	writeCmd struct {
		Minor  int    `@Int`
		Offset int64  `@Int`
		Data   string `@String`
	}

	readCmd struct {
		Minor  int   `@Int`
		Offset int64 `@Int`
		Count  int   `@Int`
	}

	defaultsCmd struct {
		Quantum int `@Int`
		QSet    int `@Int`
	}
)

var (
	cmdLexer = lexer.Must(lexer.Regexp(`(\s+)` +
		`|(?P<Keyword>(?i)\b(?:OPEN|CLOSE|WRITE|READ|DUMP|TRIM|DEFAULTS|STAT|LIST|RDONLY|WRONLY|RDWR)\b)` +
		`|(?P<Int>\d+)` +
		`|(?P<String>"(?:[^\\"]|\\.)*")`,
	))

	cmdParser = participle.MustBuild(&command{},
		participle.Lexer(cmdLexer),
		participle.Unquote("String"),
		participle.CaseInsensitive("Keyword"))
)

func parseCommand(line string) (*command, error) {
	cmd := &command{}
	err := cmdParser.ParseString(line, cmd)
	return cmd, err
}

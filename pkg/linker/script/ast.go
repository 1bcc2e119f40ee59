// Package script implements the linker script language: a small layout
// description that gathers sections into segments, assigns addresses and
// biases, and parameterizes all of it per output format. Output formats
// carry built-in scripts as strings; users may override them with a script
// file. The package is pure syntax; evaluation lives with the linker.
package script

// Program is a parsed linker script: a sequence of top level statements
type Program struct {
	Statements []Statement
}

// Statement is a top level directive: a segment block, a segment template,
// or a bare layout action
type Statement interface {
	statement()
}

// Action is a layout directive legal both at top level and inside blocks
type Action interface {
	Statement
	action()
}

// SetCurrentAddress is the `at expr` action. In the post block of a
// segment it retroactively rebases the whole segment instead.
type SetCurrentAddress struct {
	Address Expression
}

// AlignAddress is the `align expr` action
type AlignAddress struct {
	Boundary Expression
}

// SetNextBase is the `base expr` action, setting the address the latest
// section's offsets are counted from
type SetNextBase struct {
	Base Expression
}

// Assign is the `name = expr` action
type Assign struct {
	Name  string
	Value Expression
}

// SegmentBlock is `"name" { commands } { post };`
type SegmentBlock struct {
	Name     string
	Commands []Command
	Post     []Action
}

// TemplateBlock is `for predicate { commands } { post };`, emitting one
// segment per section matching the predicate
type TemplateBlock struct {
	Match    Predicate
	Commands []Command
	Post     []Action
}

func (*SetCurrentAddress) statement() {}
func (*AlignAddress) statement()      {}
func (*SetNextBase) statement()       {}
func (*Assign) statement()            {}
func (*SegmentBlock) statement()      {}
func (*TemplateBlock) statement()     {}

func (*SetCurrentAddress) action() {}
func (*AlignAddress) action()      {}
func (*SetNextBase) action()       {}
func (*Assign) action()            {}

// Command is a directive inside a segment block: an action or a collect
type Command interface {
	command()
}

// Collect is `all predicate actions;`, gathering every not yet placed
// section satisfying the predicate and running the actions before each
type Collect struct {
	Match   Predicate
	Actions []Action
}

func (*Collect) command()           {}
func (*SetCurrentAddress) command() {}
func (*AlignAddress) command()      {}
func (*SetNextBase) command()       {}
func (*Assign) command()            {}

// Expression is an integer valued script expression
type Expression interface {
	expression()
}

type Integer struct {
	Value int64
}

// Parameter is `?name?`, a linker parameter supplied by the output format
// or the command line
type Parameter struct {
	Name string
}

type Identifier struct {
	Name string
}

// Here is the current address
type Here struct{}

// StartOf is `start of segment`
type StartOf struct {
	Name string
}

// SizeOf is `size of segment`
type SizeOf struct {
	Name string
}

// BaseOf is `base of segment`
type BaseOf struct {
	Name string
}

// AlignExpr is `align(value, boundary)`
type AlignExpr struct {
	Value    Expression
	Boundary Expression
}

// Maximum is `max(...)`
type Maximum struct {
	Args []Expression
}

// Minimum is `min(...)`
type Minimum struct {
	Args []Expression
}

// Unary is `-expr` or `~expr`
type Unary struct {
	Op      byte
	Operand Expression
}

// Binary is a two operand operator: << >> + - & ^ |
type Binary struct {
	Op    string
	Left  Expression
	Right Expression
}

func (*Integer) expression()    {}
func (*Parameter) expression()  {}
func (*Identifier) expression() {}
func (*Here) expression()       {}
func (*StartOf) expression()    {}
func (*SizeOf) expression()     {}
func (*BaseOf) expression()     {}
func (*AlignExpr) expression()  {}
func (*Maximum) expression()    {}
func (*Minimum) expression()    {}
func (*Unary) expression()      {}
func (*Binary) expression()     {}

// Predicate selects sections
type Predicate interface {
	predicate()
}

// MatchAny is `any`. Inside a template body it matches only further
// sections of the instantiating name.
type MatchAny struct{}

// MatchName matches a section by exact name
type MatchName struct {
	Name string
}

// MatchSuffix matches a section whose name ends with the suffix; in a
// template head the rest of the name becomes the instance name
type MatchSuffix struct {
	Suffix string
}

// FlagTest names a section flag a predicate tests
type FlagTest int

const (
	TestReadable FlagTest = iota
	TestWritable
	TestExecutable
	TestMergeable
	TestZeroFilled
	TestFixed
	TestResource
	TestOptional
	TestStack
	TestHeap
)

// MatchFlag matches a section carrying the flag
type MatchFlag struct {
	Test FlagTest
}

// MatchCustomFlag matches against format specific flag bits
type MatchCustomFlag struct {
	Flags Expression
}

type NotPredicate struct {
	Operand Predicate
}

type AndPredicate struct {
	Left  Predicate
	Right Predicate
}

type OrPredicate struct {
	Left  Predicate
	Right Predicate
}

// MaximumSections caps how many sections a template instantiates
type MaximumSections struct {
	Match Predicate
	Limit Expression
}

func (*MatchAny) predicate()        {}
func (*MatchName) predicate()       {}
func (*MatchSuffix) predicate()     {}
func (*MatchFlag) predicate()       {}
func (*MatchCustomFlag) predicate() {}
func (*NotPredicate) predicate()    {}
func (*AndPredicate) predicate()    {}
func (*OrPredicate) predicate()     {}
func (*MaximumSections) predicate() {}

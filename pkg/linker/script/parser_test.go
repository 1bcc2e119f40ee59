package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contiguousScript = `
# layout for contiguous 68000 executables
".code"
{
	at ?code_base_address?;
	all not write align 4;
	align 4;
};

".data"
{
	at max(here, ?data_base_address?);
	all not zero align 4;
	align 4;
};

".bss"
{
	all not ".stack" align 4;
	align 4;
};

".stack"
{
	all align 4;
};
`

func TestParseSegmentBlocks(t *testing.T) {
	program, err := Parse(contiguousScript)
	require.NoError(t, err)
	require.Len(t, program.Statements, 4)

	code, ok := program.Statements[0].(*SegmentBlock)
	require.True(t, ok)
	assert.Equal(t, ".code", code.Name)
	require.Len(t, code.Commands, 3)

	at, ok := code.Commands[0].(*SetCurrentAddress)
	require.True(t, ok)
	parameter, ok := at.Address.(*Parameter)
	require.True(t, ok)
	assert.Equal(t, "code_base_address", parameter.Name)

	collect, ok := code.Commands[1].(*Collect)
	require.True(t, ok)
	not, ok := collect.Match.(*NotPredicate)
	require.True(t, ok)
	flag, ok := not.Operand.(*MatchFlag)
	require.True(t, ok)
	assert.Equal(t, TestWritable, flag.Test)
	require.Len(t, collect.Actions, 1)

	bss := program.Statements[2].(*SegmentBlock)
	bssCollect, ok := bss.Commands[0].(*Collect)
	require.True(t, ok)
	bssNot, ok := bssCollect.Match.(*NotPredicate)
	require.True(t, ok)
	name, ok := bssNot.Operand.(*MatchName)
	require.True(t, ok)
	assert.Equal(t, ".stack", name.Name)

	stack := program.Statements[3].(*SegmentBlock)
	stackCollect, ok := stack.Commands[0].(*Collect)
	require.True(t, ok)
	_, ok = stackCollect.Match.(*MatchAny)
	assert.True(t, ok)
}

func TestParseMaxExpression(t *testing.T) {
	program, err := Parse(`".data" { at max(here, ?data_base_address?); };`)
	require.NoError(t, err)
	segment := program.Statements[0].(*SegmentBlock)
	at := segment.Commands[0].(*SetCurrentAddress)
	maximum, ok := at.Address.(*Maximum)
	require.True(t, ok)
	require.Len(t, maximum.Args, 2)
	_, ok = maximum.Args[0].(*Here)
	assert.True(t, ok)
}

func TestParseTemplate(t *testing.T) {
	program, err := Parse(`for resource { at 0; all any; };`)
	require.NoError(t, err)
	template, ok := program.Statements[0].(*TemplateBlock)
	require.True(t, ok)
	flag, ok := template.Match.(*MatchFlag)
	require.True(t, ok)
	assert.Equal(t, TestResource, flag.Test)
	require.Len(t, template.Commands, 2)
}

func TestParseTemplateWithSuffixAndMaximum(t *testing.T) {
	program, err := Parse(`for suffix "_res" maximum 4 { all any; };`)
	require.NoError(t, err)
	template := program.Statements[0].(*TemplateBlock)
	capped, ok := template.Match.(*MaximumSections)
	require.True(t, ok)
	suffix, ok := capped.Match.(*MatchSuffix)
	require.True(t, ok)
	assert.Equal(t, "_res", suffix.Suffix)
	limit, ok := capped.Limit.(*Integer)
	require.True(t, ok)
	assert.Equal(t, int64(4), limit.Value)
}

func TestParsePostBlock(t *testing.T) {
	program, err := Parse(`".a5world" { all any; } { at 0 - size of ".a5world"; };`)
	require.NoError(t, err)
	segment := program.Statements[0].(*SegmentBlock)
	require.Len(t, segment.Post, 1)
	at, ok := segment.Post[0].(*SetCurrentAddress)
	require.True(t, ok)
	binary, ok := at.Address.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "-", binary.Op)
	size, ok := binary.Right.(*SizeOf)
	require.True(t, ok)
	assert.Equal(t, ".a5world", size.Name)
}

func TestParseExpressionOperators(t *testing.T) {
	program, err := Parse(`x = 1 + 2 << 3 & ~4 | 5 ^ 6;`)
	require.NoError(t, err)
	assign, ok := program.Statements[0].(*Assign)
	require.True(t, ok)
	assert.Equal(t, "x", assign.Name)
	// | is the loosest operator
	top, ok := assign.Value.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "|", top.Op)
}

func TestParseIntegerBases(t *testing.T) {
	program, err := Parse(`a = 0x100; b = 16; c = 0777;`)
	require.NoError(t, err)
	assert.Equal(t, int64(0x100), program.Statements[0].(*Assign).Value.(*Integer).Value)
	assert.Equal(t, int64(16), program.Statements[1].(*Assign).Value.(*Integer).Value)
	assert.Equal(t, int64(0777), program.Statements[2].(*Assign).Value.(*Integer).Value)
}

func TestParseCustomFlag(t *testing.T) {
	program, err := Parse(`".chip" { all custom_flag(1 << 11); };`)
	require.NoError(t, err)
	segment := program.Statements[0].(*SegmentBlock)
	collect := segment.Commands[0].(*Collect)
	_, ok := collect.Match.(*MatchCustomFlag)
	assert.True(t, ok)
}

func TestParseErrors(t *testing.T) {
	for _, source := range []string{
		`".code" {`,
		`".code" { all unknownpred; };`,
		`at ;`,
		`".code" { at ?missing; };`,
		`"unterminated`,
	} {
		_, err := Parse(source)
		assert.Error(t, err, "source: %s", source)
		assert.ErrorIs(t, err, ErrSyntax, "source: %s", source)
	}
}

func TestParseComments(t *testing.T) {
	program, err := Parse("# leading comment\nx = 1; # trailing\n")
	require.NoError(t, err)
	require.Len(t, program.Statements, 1)
}

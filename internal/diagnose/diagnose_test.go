package diagnose

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(findings []Finding) []string {
	var out []string
	for _, f := range findings {
		out = append(out, f.Name)
	}
	return out
}

func newDefault(t *testing.T) *MarkerDiagnoser {
	t.Helper()
	d, err := NewMarkerDiagnoser(DefaultRules())
	require.NoError(t, err)
	return d
}

func TestDiagnose_MarkerWithConverterPrefix(t *testing.T) {
	d := newDefault(t)
	stderr := "loading receptor\nERROR: Bad input file /tmp/work/obabel_lig2.sdf\nabort\n"

	got := d.Diagnose(stderr, []string{"lig1", "lig2", "lig3"})
	require.Len(t, got, 1)
	assert.Equal(t, "lig2", got[0].Name)
	assert.Equal(t, "ERROR: Bad input file /tmp/work/obabel_lig2.sdf", got[0].Line)
}

func TestDiagnose_NoMarkerNoFinding(t *testing.T) {
	d := newDefault(t)
	got := d.Diagnose("Segmentation fault while processing lig2.sdf\n", []string{"lig2"})
	assert.Empty(t, got)
}

func TestDiagnose_IgnoresUnsubmittedAndSubstringNames(t *testing.T) {
	d := newDefault(t)
	stderr := strings.Join([]string{
		"Bad input file /x/obabel_other.sdf",
		"Bad input file obabel_lig10.sdf",
	}, "\n")
	assert.Empty(t, d.Diagnose(stderr, []string{"lig1"}))
}

func TestDiagnose_MultipleFindingsInOrderDeduplicated(t *testing.T) {
	d := newDefault(t)
	stderr := strings.Join([]string{
		"bad INPUT file: lig3.sdf.",
		"warning: something else about lig1",
		"Bad input file /tmp/obabel_lig1.pdbqt",
		"Bad input file /tmp/obabel_lig3.sdf",
	}, "\r\n")
	got := d.Diagnose(stderr, []string{"lig1", "lig2", "lig3"})
	assert.Equal(t, []string{"lig3", "lig1"}, names(got))
}

func TestDiagnose_MarkerLineWordsAndNumbersNeverMatch(t *testing.T) {
	d := newDefault(t)
	stderr := "ERROR: Bad input file at line 3: /tmp/obabel_lig.sdf\n"

	got := d.Diagnose(stderr, []string{"3", "lig", "file", "tmp"})
	assert.Equal(t, []string{"lig"}, names(got))
}

func TestDiagnose_NumericNamesNeedAFileToken(t *testing.T) {
	d := newDefault(t)

	assert.Empty(t, d.Diagnose("Bad input file: 12 records skipped\n", []string{"12", "7"}))
	assert.Equal(t, []string{"7"}, names(d.Diagnose("Bad input file /split/7.sdf\n", []string{"12", "7"})))
	assert.Equal(t, []string{"12"}, names(d.Diagnose("Bad input file obabel_12\n", []string{"12", "7"})))
}

func TestDiagnose_PatternWithNameGroup(t *testing.T) {
	d, err := NewMarkerDiagnoser(Rules{
		Patterns:        []string{`failed to parse ligand (?P<name>\S+)`},
		StripExtensions: DefaultStripExtensions,
	})
	require.NoError(t, err)

	got := d.Diagnose("RuntimeError: failed to parse ligand /data/set/lig3.pdbqt\n", []string{"lig3", "lig4"})
	assert.Equal(t, []string{"lig3"}, names(got))
}

func TestNewMarkerDiagnoser_RejectsBadPatterns(t *testing.T) {
	_, err := NewMarkerDiagnoser(Rules{Patterns: []string{"("}})
	assert.Error(t, err)

	_, err = NewMarkerDiagnoser(Rules{Patterns: []string{`bad (\S+)`}})
	assert.Error(t, err)
}

func TestDiagnose_NeverReportsOutsideSubmitted(t *testing.T) {
	d := newDefault(t)
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 200; round++ {
		submitted := make([]string, 0, 20)
		allowed := make(map[string]bool)
		for i := 0; i < 20; i++ {
			name := fmt.Sprintf("lig%d", rng.Intn(60))
			submitted = append(submitted, name)
			allowed[name] = true
		}
		var lines []string
		for i := 0; i < 30; i++ {
			name := fmt.Sprintf("lig%d", rng.Intn(120))
			switch rng.Intn(4) {
			case 0:
				lines = append(lines, "Bad input file /tmp/obabel_"+name+".sdf")
			case 1:
				lines = append(lines, "Bad input file "+name)
			case 2:
				lines = append(lines, "processing "+name+" ok")
			default:
				lines = append(lines, "Bad input file ["+name+"x.sdf]")
			}
		}
		for _, f := range d.Diagnose(strings.Join(lines, "\n"), submitted) {
			assert.True(t, allowed[f.Name], "round %d reported %q", round, f.Name)
		}
	}
}

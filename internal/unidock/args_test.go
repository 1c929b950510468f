package unidock

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
)

func mcdockParams() Params {
	return Params{
		Receptor:          "/data/receptor.pdbqt",
		Center:            [3]float64{42.328, 28.604, 21.648},
		Size:              [3]float64{22.5, 22.5, 22.5},
		BatchSize:         100,
		Rigid:             Stage{ScoringFunction: "vina", Exhaustiveness: 8, NumModes: 3, TopN: 50},
		Refine:            Stage{ScoringFunction: "vina", Exhaustiveness: 16, NumModes: 1, TopN: 1},
		MinRMSD:           0.3,
		MaxConfsPerLigand: 10,
		GenConf:           true,
		Extra:             map[string]string{"--verbose": "", "seed": "42"},
	}
}

func TestCommand_Golden(t *testing.T) {
	c := &Client{
		Executable: "unidocktools",
		Subcommand: DefaultSubcommand,
		Params:     mcdockParams(),
		ResultsDir: "/out/mcresult",
	}
	argv := c.Command("/out/index/" + IndexFileName(1, 1))

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "mcdock_command", []byte(strings.Join(argv, "\n")+"\n"))
}

func TestBuildArgs_OmitsUnsetOptionals(t *testing.T) {
	args := BuildArgs(Params{Receptor: "r.pdbqt"}, "/s", "--index", "/i.txt")
	assert.Equal(t, []string{
		"--receptor", "r.pdbqt",
		"--center_x", "0", "--center_y", "0", "--center_z", "0",
		"--size_x", "0", "--size_y", "0", "--size_z", "0",
		"--savedir", "/s",
		"--index", "/i.txt",
	}, args)
}

func TestBuildArgs_IsDeterministic(t *testing.T) {
	p := mcdockParams()
	first := BuildArgs(p, "/s", "", "/i")
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, BuildArgs(p, "/s", "", "/i"))
	}
	assert.Equal(t, DefaultIndexFlag, first[len(first)-2])
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "chunk_0007_attempt_2_index.txt", IndexFileName(7, 2))
	assert.Equal(t, "chunk_0012_attempt_1.log", LogFileName(12, 1))
}

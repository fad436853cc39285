package agent

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed prompts/*.md
var defaultPrompts embed.FS

// Role prompt files. Everything else in the directory is persona text.
const (
	plannerPromptFile  = "planner.md"
	verifierPromptFile = "verifier.md"
)

var ErrNoPersona = errors.New("no persona prompt files")

// PromptManager loads prompts from a directory, falling back to the
// built-in defaults for the planner and verifier.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// GetPersonaPrompt joins the persona files (identity, soul, user, ...) in a
// fixed order. It is prepended to the verifier prompt.
func (pm *PromptManager) GetPersonaPrompt() (string, error) {
	entries, err := os.ReadDir(pm.Directory)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNoPersona
		}
		return "", fmt.Errorf("failed to read prompts directory: %v", err)
	}

	order := map[string]int{
		"identity.md": 1,
		"soul.md":     2,
		"style.md":    3,
		"user.md":     4,
	}

	sort.Slice(entries, func(i, j int) bool {
		oi, okI := order[entries[i].Name()]
		oj, okJ := order[entries[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return entries[i].Name() < entries[j].Name()
	})

	var contents []string
	for _, f := range entries {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".md") || name == plannerPromptFile || name == verifierPromptFile {
			continue
		}
		path := filepath.Join(pm.Directory, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", path, err)
			continue
		}
		contents = append(contents, string(data))
	}

	if len(contents) == 0 {
		return "", ErrNoPersona
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}

func (pm *PromptManager) GetPlannerPrompt() (string, error) {
	return pm.load(plannerPromptFile)
}

func (pm *PromptManager) GetVerifierPrompt() (string, error) {
	return pm.load(verifierPromptFile)
}

// load prefers the file in Directory and falls back to the embedded copy.
func (pm *PromptManager) load(name string) (string, error) {
	if pm.Directory != "" {
		data, err := os.ReadFile(filepath.Join(pm.Directory, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to read %s: %v", name, err)
		}
	}
	data, err := defaultPrompts.ReadFile("prompts/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to read built-in %s: %v", name, err)
	}
	return string(data), nil
}

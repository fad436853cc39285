package observability

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorBlue     = "\033[34m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

var radarFrames = []string{"◜", "◝", "◞", "◟"}
var radarIdx = 0

// termMu synchronizes ALL terminal output so that the cursor
// save/restore in PrintLiveStatus can never be interrupted by a log write.
var termMu sync.Mutex

// ------------------------------------------------------------
// Utility
// ------------------------------------------------------------

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// ------------------------------------------------------------
// TermWriter – a mutex-guarded io.Writer for log output.
// Every log.Println call will go through this writer, ensuring
// the cursor is safely inside the scroll region before writing.
// ------------------------------------------------------------

type termWriter struct{}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer suitable for log.SetOutput().
// It serialises writes with PrintLiveStatus via termMu.
func NewTermWriter() *termWriter {
	return &termWriter{}
}

// ------------------------------------------------------------
// Banner
// ------------------------------------------------------------

func PrintBanner() {
	fmt.Print("\033[2J\033[H")

	banner := `
  _____         _    ____  _ _       _
 |_   _|_ _ ___| | _|  _ \(_) | ___ | |_
   | |/ _` + "`" + ` / __| |/ / |_) | | |/ _ \| __|
   | | (_| \__ \   <|  __/| | | (_) | |_
   |_|\__,_|___/_|\_\_|   |_|_|\___/ \__|

        >> PLAN. EXECUTE. VERIFY. <<
`

	width := termWidth()
	lines := strings.Split(banner, "\n")

	for _, l := range lines {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

func InitializeTerminal() {
	// Header/Logo area: 1-9
	// Dashboard/Status: 10
	// Gap: 11
	// Scrolling Logs: 12+
	fmt.Print("\033[12;r")  // Set scrolling region from line 12 to the bottom
	fmt.Print("\033[12;1H") // Move cursor to the start of the scrolling region
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// ------------------------------------------------------------
// Live Status
// ------------------------------------------------------------

// PrintLiveStatus redraws the status line on row 10.
func PrintLiveStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	line := renderStatus(Snapshot(), time.Now(), time.Since(startTime), float64(m.Alloc)/1024/1024)

	// Lock, write the ENTIRE escape sequence atomically, unlock.
	termMu.Lock()
	fmt.Print("\033[s\033[10;1H\033[K" + line + "\033[u")
	termMu.Unlock()
}

func pulse(now, lastHB time.Time) (icon, text, color string) {
	switch delta := now.Sub(lastHB); {
	case delta < 40*time.Second:
		return "🟢", "HEALTHY", colorNeonCyan
	case delta < 90*time.Second:
		return "🟡", "LAGGING", colorPurple
	}
	return "🔴", "OFFLINE", colorNeonMag
}

func roleStyle(role Role) (icon, color string) {
	switch role {
	case RolePlanning:
		return "🧭", colorNeonCyan
	case RoleExecuting:
		return "⚙️", colorNeonMag
	case RoleVerifying:
		return "🔎", colorBlue
	}
	return "💤", colorReset
}

// renderStatus builds the status line without cursor control sequences.
func renderStatus(s StatusSnapshot, now time.Time, uptime time.Duration, memMB float64) string {
	pulseIcon, pulseText, pulseColor := pulse(now, s.LastHeartbeat)
	icon, roleColor := roleStyle(s.Role)

	radar := " "
	if s.Role != RoleIdle {
		radar = radarFrames[radarIdx]
		radarIdx = (radarIdx + 1) % len(radarFrames)
	}

	task := s.Task
	if task == "" {
		task = "Waiting..."
	}
	if len(task) > 25 {
		task = task[:22] + "..."
	}
	if s.ActiveRuns > 1 {
		task = fmt.Sprintf("%s (+%d)", task, s.ActiveRuns-1)
	}
	if s.Role == RoleExecuting {
		task = fmt.Sprintf("%s wave %d", task, s.Wave)
	}

	stepColor := colorNeonCyan
	if s.StepsFailed > 0 {
		stepColor = colorNeonMag
	}

	return fmt.Sprintf(
		"%s[%s] %s%s %-10s%s | %s%s %-9s%s [%s] %s%s%s | runs %d | %ssteps %d ok %d failed%s | %v %.1fMB",
		colorReset,
		s.LastHeartbeat.Format("15:04:05"),
		pulseColor, pulseIcon, pulseText, colorReset,
		roleColor, icon, s.Role, colorReset,
		task,
		colorPurple, radar, colorReset,
		s.RunsDone,
		stepColor, s.StepsOK, s.StepsFailed, colorReset,
		uptime.Round(time.Second), memMB,
	)
}

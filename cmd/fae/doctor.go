package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/saorsa-labs/fae/internal/scheduler"
	"github.com/saorsa-labs/fae/internal/session"
	"github.com/saorsa-labs/fae/internal/skills"
)

// DoctorCmd diagnoses the local installation: scheduler findings, session
// store health, and skill quarantine states.
func DoctorCmd() *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check assistant health and diagnose issues",
		Long: `Run diagnostics on the local fae installation.

Checks:
  - Scheduler state and paused tasks
  - Session database
  - Skill quarantine states

Examples:
  fae doctor          # report problems
  fae doctor --fix    # also re-enable paused scheduler tasks`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runDoctor(cfg.Memory.RootDir, cfg.DBPath(), cfg.Skills.Dir, fix)
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "apply repair actions for paused tasks")
	return cmd
}

func runDoctor(memoryRoot, dbPath, skillsDir string, fix bool) error {
	problems := 0

	// Scheduler: loading surfaces corrupt-state findings; paused tasks get
	// their own findings with repair actions.
	sched := scheduler.New(scheduler.NewStore(memoryRoot), nil, nil)
	findings := sched.Doctor()
	if len(findings) == 0 {
		fmt.Println("scheduler: ok")
	}
	for _, f := range findings {
		problems++
		fmt.Printf("scheduler: %s\n", f.Problem)
		if !fix {
			continue
		}
		for _, a := range f.Actions {
			if a.Kind != scheduler.ActionEnableTask {
				continue
			}
			sched.Start()
			err := sched.Apply(a)
			sched.Stop()
			if err != nil {
				fmt.Printf("  fix failed: %v\n", err)
			} else {
				fmt.Printf("  re-enabled task %s\n", a.TaskID)
			}
		}
	}

	// Session database.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("sessions: no database yet")
	} else if sessions, entries, err := session.Probe(dbPath); err != nil {
		problems++
		fmt.Printf("sessions: unreadable: %v\n", err)
	} else {
		fmt.Printf("sessions: ok (%d sessions, %d entries)\n", sessions, entries)
	}

	// Skills.
	library := skills.NewLibrary(skillsDir)
	if err := library.Scan(); err != nil {
		fmt.Printf("skills: scan failed: %v\n", err)
	} else {
		quarantined := 0
		for _, sk := range library.List() {
			if sk.State == skills.StateQuarantined {
				quarantined++
				problems++
				fmt.Printf("skills: %s quarantined: %s\n", sk.Manifest.ID, sk.LastError)
			}
		}
		if quarantined == 0 {
			fmt.Printf("skills: ok (%d installed)\n", len(library.List()))
		}
	}

	if problems == 0 {
		fmt.Println("\nall checks passed")
	} else {
		fmt.Printf("\n%d problem(s) found\n", problems)
	}
	return nil
}

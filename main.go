package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/saravenpi/huddle/internal/client"
	"github.com/saravenpi/huddle/internal/config"
	"github.com/saravenpi/huddle/internal/directory"
	"github.com/saravenpi/huddle/internal/logging"
	"github.com/saravenpi/huddle/internal/session"
	"github.com/saravenpi/huddle/internal/ui"
)

const (
	version       = "1.0.0"
	recentLogSize = 16 * 1024
)

var (
	configPath string
	logPath    string
	logLevel   int
	username   string
	resumeChat bool
)

var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "Terminal client for private and team chat",
	Long:  helpText,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log") {
			cfg.Log.File = logPath
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if err := logging.Init(jww.Threshold(cfg.Log.Level), cfg.Log.File); err != nil {
			return err
		}
		recent, err := logging.NewRecent(jww.LevelWarn, recentLogSize)
		if err != nil {
			return err
		}
		recent.Register()
		jww.INFO.Printf("huddle v%s starting against %s", version, cfg.Server.BaseURL)

		store, err := session.Open(session.GetPath(cfg.Storage.DataDir))
		if err != nil {
			return err
		}
		defer store.Close()

		c := client.New(cfg, store, directory.New(cfg.Storage.DataDir))
		p := tea.NewProgram(ui.NewApp(c, ui.Options{
			Username:   username,
			ResumeChat: resumeChat,
		}), tea.WithAltScreen())

		final, err := p.Run()
		if app, ok := final.(ui.App); ok {
			app.Close()
		}
		if err != nil {
			os.Stderr.Write(recent.Bytes())
			return fmt.Errorf("failed to run UI: %w", err)
		}
		jww.INFO.Print("huddle stopped")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Huddle v%s\n", version)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to config.yaml or the directory containing it")
	rootCmd.Flags().StringVarP(&logPath, "log", "l", "",
		"Log file path; \"-\" logs to stdout, empty disables logging")
	rootCmd.Flags().IntVarP(&logLevel, "log-level", "v", 2,
		"Log threshold, 0 (trace) to 6 (fatal)")
	rootCmd.Flags().StringVarP(&username, "user", "u", "",
		"Prefill the login form with this username")
	rootCmd.Flags().BoolVar(&resumeChat, "resume-chat", false,
		"Reopen the conversation from the previous run after login")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

const helpText = `Huddle - Terminal Chat Client

Talks to the chat server over REST and a STOMP push channel. The session
(username and the last open conversation) is kept in ~/.huddle/session.db,
known users in ~/.huddle/users/ as YAML files.

Navigation:
  ↑/↓ or j/k        Navigate lists
  Enter             Select/Open item
  Tab               Switch between sidebar and chat
  ESC               Go back
  q                 Quit from current view
  ctrl+c            Force quit

Login:
  tab               Switch field
  ctrl+r            Toggle log in / create account

Conversations:
  /                 Filter conversations
  n                 Find people and start a private chat
  t                 Create or join a team
  r                 Refresh conversation list
  s                 Full sync
  L                 Log out

Messages:
  n or c            Compose new message
  ctrl+s            Send message (while composing)
  ↑/↓ or j/k        Scroll messages
  m                 Team members (team chats)
  x                 Leave team (team chats)`

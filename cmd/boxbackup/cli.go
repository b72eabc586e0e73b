package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vorteil/boxbackup/pkg/elog"
)

var log elog.View

var (
	flagVerbose      bool
	flagDebug        bool
	flagJSON         bool
	flagClientConfig string
	flagServerConfig string
)

func commandInit() {

	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "enable json output")
	rootCmd.PersistentFlags().StringVar(&flagClientConfig, "client-config", "", "path to a boxbackup-client config file")
	rootCmd.PersistentFlags().StringVar(&flagServerConfig, "server-config", "", "path to a boxbackup-server config file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {

		logger := &elog.CLI{}

		if flagJSON {
			logger.DisableTTY = true
			logrus.SetFormatter(&logrus.JSONFormatter{})
		} else {
			logrus.SetFormatter(logger)
		}

		logrus.SetLevel(logrus.TraceLevel)

		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}

		log = logger
		return nil
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(housekeepingCmd)
	rootCmd.AddCommand(dumpCmd)

	accountCmd.AddCommand(accountCreateCmd)
	accountCreateCmd.Flags().Uint32Var(&flagAccountID, "account-id", 0, "numeric id to assign the new account")
	accountCreateCmd.Flags().Int64Var(&flagSoftLimit, "soft-limit", 0, "override the server's default soft block limit")
	accountCreateCmd.Flags().Int64Var(&flagHardLimit, "hard-limit", 0, "override the server's default hard block limit")

	restoreCmd.Flags().BoolVar(&flagResume, "resume", false, "resume a restore left behind by an interrupted run")
	restoreCmd.Flags().BoolVar(&flagIncludeDeleted, "include-deleted", false, "also restore entries flagged Deleted")
	restoreCmd.Flags().BoolVar(&flagIncludeOldVersion, "include-old-versions", false, "also restore entries flagged OldVersion")
	restoreCmd.Flags().Uint64Var(&flagRestoreRootID, "root-id", 0, "remote directory id to restore from")
	restoreCmd.Flags().StringVar(&flagRestoreTarget, "target", "", "local directory to restore into")

	dumpCmd.Flags().BoolVar(&flagDumpDirectory, "directory", false, "treat the object id as a directory object rather than a file object")
}

var rootCmd = &cobra.Command{
	Use:   "boxbackup",
	Short: "boxbackup's command-line interface",
	Long:  "boxbackup drives encrypted, deduplicating backups and restores against a boxbackup server.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("boxbackup %s (%s)\n", release, commit)
	},
}

// Command tftp-client transfers a single file to or from a TFTP server.
//
//	tftp-client [-v] [-h HOST] [-p PORT] -r REMOTE [LOCAL]
//	tftp-client [-v] [-h HOST] [-p PORT] -w [LOCAL] REMOTE
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/danielhart/gotftp/internal/tftp"
)

var (
	host        string
	port        string
	readFlag    bool
	writeFlag   bool
	verbose     bool
	timeoutBase int
	retries     int
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tftp-client: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tftp-client -r [flags] REMOTE [LOCAL] | tftp-client -w [flags] [LOCAL] REMOTE",
		Short: "transfer a single file to or from a TFTP server (RFC 1350)",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runTransfer,

		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVarP(&host, "host", "h", "localhost", "TFTP server host")
	cmd.Flags().StringVarP(&port, "port", "p", "69", "TFTP server port")
	cmd.Flags().BoolVarP(&readFlag, "read", "r", false, "read a file from the server (RRQ)")
	cmd.Flags().BoolVarP(&writeFlag, "write", "w", false, "write a file to the server (WRQ)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging to stderr")
	cmd.Flags().IntVar(&timeoutBase, "timeout-base-ms", 0, "override the initial retransmission interval in ms (advanced; WAN tuning)")
	cmd.Flags().IntVar(&retries, "retries", 0, "override the retry budget (advanced; WAN tuning)")
	return cmd
}

func runTransfer(cmd *cobra.Command, args []string) error {
	log := newLogger(verbose)

	if readFlag == writeFlag {
		return fmt.Errorf("exactly one of -r or -w must be given")
	}

	remoteFile, localFile, direction := resolveNames(readFlag, args)

	cfg, localStream, err := buildConfig(direction, remoteFile, localFile)
	if err != nil {
		log.WithError(err).Error("failed to open local file")
		return err
	}
	defer localStream.Close()

	session := tftp.NewSession(cfg)
	if timeoutBase > 0 {
		session.SetBackoff(timeoutBase)
	}
	if retries > 0 {
		session.SetRetries(retries)
	}

	if err := session.BindSocket(log); err != nil {
		log.WithError(err).Error("could not bind a socket to any candidate address")
		return err
	}
	defer session.Close()

	if err := session.EncodeRequest(); err != nil {
		log.WithError(err).Error("failed to encode initial request")
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := session.Run(ctx, log); err != nil {
		log.WithError(err).Error("transfer failed")
		return err
	}

	log.WithFields(logrus.Fields{
		"blocks": session.BlockNum(),
		"state":  session.State(),
	}).Info("transfer complete")
	return nil
}

// resolveNames applies the positional-argument rules from the CLI surface:
// with -r the first positional is the remote name and an optional second
// overrides the local name; with -w it is reversed.
func resolveNames(isRead bool, args []string) (remote, local string, direction tftp.Direction) {
	if isRead {
		remote = args[0]
		local = args[0]
		if len(args) > 1 {
			local = args[1]
		}
		return remote, local, tftp.Read
	}

	local = args[0]
	remote = args[0]
	if len(args) > 1 {
		remote = args[1]
	}
	return remote, local, tftp.Write
}

// buildConfig opens the local file (created/truncated for RRQ, opened
// read-only for WRQ) and assembles the session Config around it.
func buildConfig(direction tftp.Direction, remoteFile, localFile string) (tftp.Config, *os.File, error) {
	var f *os.File
	var err error
	if direction == tftp.Read {
		f, err = os.Create(localFile)
	} else {
		f, err = os.Open(localFile)
	}
	if err != nil {
		return tftp.Config{}, nil, err
	}

	return tftp.Config{
		Host:       host,
		Port:       port,
		Mode:       tftp.ModeOctet,
		RemoteFile: remoteFile,
		Direction:  direction,
		LocalFile:  f,
	}, f, nil
}

func newLogger(verbose bool) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	level := logrus.InfoLevel
	if verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(logger)
}

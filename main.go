package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	bci "bci/vm"
)

// zstd frame magic; images may be stored compressed and are decompressed
// transparently before execution or disassembly.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

func readImage(path string) ([]byte, error) {
	block, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("File not found: %s\n", path)
		return nil, err
	}

	if bytes.HasPrefix(block, zstdMagic) {
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer decoder.Close()

		block, err = decoder.DecodeAll(block, nil)
		if err != nil {
			fmt.Printf("Corrupt compressed image: %s\n", path)
			return nil, err
		}
	}

	return block, nil
}

func loadSettings(path string) (bci.Settings, error) {
	if path == "" {
		return bci.DefaultSettings(), nil
	}

	settings, err := bci.LoadSettings(path)
	if err != nil {
		fmt.Printf("Could not read settings: %s\n", err)
	}
	return settings, err
}

func main() {
	var settingsPath string
	var debug bool

	root := &cobra.Command{
		Use:   "bci",
		Short: "Bytecode interpreter for a small functional language",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("expected a command: run or dis")
		},
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stdout)
	root.PersistentFlags().StringVar(&settingsPath, "settings", "", "machine settings file (YAML)")

	runCmd := &cobra.Command{
		Use:           "run <file>",
		Short:         "Execute a bytecode image",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(settingsPath)
			if err != nil {
				return err
			}

			block, err := readImage(args[0])
			if err != nil {
				return err
			}

			return bci.Execute(block, debug, settings, os.Stdout)
		},
	}
	runCmd.Flags().BoolVarP(&debug, "debug", "d", false, "trace every instruction to stdout")

	disCmd := &cobra.Command{
		Use:           "dis <file>",
		Short:         "Disassemble a bytecode image",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			block, err := readImage(args[0])
			if err != nil {
				return err
			}

			return bci.Disassemble(block, os.Stdout)
		},
	}

	root.AddCommand(runCmd, disCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

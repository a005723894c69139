package main

import (
	"fmt"
	"os"

	"github.com/arlobytes/kvlog/core"
	"go.uber.org/zap"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  kvshell <data-dir> get <key>\n")
	fmt.Fprintf(os.Stderr, "  kvshell <data-dir> put <key> <value>\n")
	fmt.Fprintf(os.Stderr, "  kvshell <data-dir> delete <key>\n")
	fmt.Fprintf(os.Stderr, "  kvshell <data-dir> compact\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}

	dataDir := os.Args[1]
	action := os.Args[2]

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	st, err := core.Open(dataDir, core.WithLogger(logger.Sugar()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	switch action {
	case "get":
		if len(os.Args) != 4 {
			usage()
		}
		val, err := st.Get([]byte(os.Args[3]))
		if err != nil {
			fmt.Fprintf(os.Stderr, "get failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(val))

	case "put":
		if len(os.Args) != 5 {
			usage()
		}
		if err := st.Put([]byte(os.Args[3]), []byte(os.Args[4])); err != nil {
			fmt.Fprintf(os.Stderr, "put failed: %v\n", err)
			os.Exit(1)
		}

	case "delete":
		if len(os.Args) != 4 {
			usage()
		}
		existed, err := st.Delete([]byte(os.Args[3]))
		if err != nil {
			fmt.Fprintf(os.Stderr, "delete failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(existed)

	case "compact":
		if len(os.Args) != 3 {
			usage()
		}
		if err := st.Compact(); err != nil {
			fmt.Fprintf(os.Stderr, "compact failed: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", action)
		usage()
	}
}

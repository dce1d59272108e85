package main

import "fmt"

// valueConsumingFlags is the fixed set of self-options that consume the
// argv entry immediately following them.
var valueConsumingFlags = map[string]bool{
	"-f":        true,
	"--file":    true,
	"-c":        true,
	"--config":  true,
	"-p":        true,
	"--plugins": true,
}

// Split partitions os.Args[1:] into the program's own options and the
// script's argument vector. Self-options run up to the first positional
// argument; an option in valueConsumingFlags swallows the entry right
// after it even if that entry looks like another option; a bare "-" at
// the positional slot selects stdin mode; a leading "--" ends self-option
// parsing and everything after it is handed to the script untouched; any
// other leading "-" at the positional slot is reported as an error.
func Split(argv []string) (selfArgs, scriptArgv []string, stdin bool, err error) {
	i := 0
	for i < len(argv) {
		arg := argv[i]

		if arg == "--" {
			return selfArgs, argv[i+1:], false, nil
		}

		if arg == "-" {
			return selfArgs, argv[i+1:], true, nil
		}

		if len(arg) == 0 || arg[0] != '-' {
			// First positional argument: the script path.
			break
		}

		selfArgs = append(selfArgs, arg)
		i++
		if valueConsumingFlags[arg] {
			if i >= len(argv) {
				return nil, nil, false, fmt.Errorf("option %s requires a value", arg)
			}
			selfArgs = append(selfArgs, argv[i])
			i++
		}
	}

	if i < len(argv) && len(argv[i]) > 0 && argv[i][0] == '-' && argv[i] != "-" {
		return nil, nil, false, fmt.Errorf("unexpected option %q at script position", argv[i])
	}

	return selfArgs, argv[i:], false, nil
}

// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/ezmon/internal/errors"
)

// bashCompletionTemplate is the bash completion script for ezmon.
const bashCompletionTemplate = `#!/bin/bash

# Bash completion script for ezmon
# Installation:
#   source <(ezmon completion bash)
#   Or add to ~/.bashrc:
#   echo 'source <(ezmon completion bash)' >> ~/.bashrc

_ezmon_completion() {
    local cur prev commands
    commands="init status reset server completion"

    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"

    if [[ ${cur} == -* ]] ; then
        COMPREPLY=( $(compgen -W "--select --no-select --no-collect --force-select --env --graph --json --no-color --verbose --quiet --version" -- ${cur}) )
        return 0
    fi

    if [ $COMP_CWORD -eq 1 ]; then
        COMPREPLY=( $(compgen -W "${commands}" -- ${cur}) )
        return 0
    fi

    local cmd="${COMP_WORDS[1]}"
    case "${cmd}" in
        init)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--env" -- ${cur}) )
            fi
            ;;
        status)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--json" -- ${cur}) )
            fi
            ;;
        reset)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--yes" -- ${cur}) )
            fi
            ;;
        server)
            if [[ ${cur} == -* ]] ; then
                COMPREPLY=( $(compgen -W "--addr" -- ${cur}) )
            fi
            ;;
        completion)
            if [ $COMP_CWORD -eq 2 ]; then
                COMPREPLY=( $(compgen -W "bash zsh fish" -- ${cur}) )
            fi
            ;;
    esac
}

complete -F _ezmon_completion ezmon
`

// zshCompletionTemplate is the zsh completion script for ezmon.
const zshCompletionTemplate = `#compdef ezmon

# Zsh completion script for ezmon
# Installation:
#   1. Ensure compinit is loaded (add to ~/.zshrc if not present):
#      autoload -U compinit; compinit
#   2. Save this script to a directory in your fpath:
#      ezmon completion zsh > "${fpath[1]}/_ezmon"
#   3. Reload completions:
#      rm -f ~/.zcompdump; compinit

_ezmon() {
    local -a commands
    commands=(
        'init:Create the local store and a default .ezmon.yaml'
        'status:Show local store summary'
        'reset:Delete the local store (destructive!)'
        'server:Start the Network Store HTTP server'
        'completion:Generate shell completion script'
    )

    _arguments -C \
        '(- *)--version[Show version and exit]' \
        '--select[Enable selection and collection]' \
        '--no-select[Disable selection; collection still occurs]' \
        '--env[Partition fingerprints per environment label]:environment:' \
        '--json[Output in JSON format]' \
        '1: :->command' \
        '*:: :->args'

    case $state in
        command)
            _describe 'command' commands
            ;;
        args)
            case $words[1] in
                init)
                    _arguments '--env[Default environment label]:environment:'
                    ;;
                status)
                    _arguments '--json[Output as JSON]'
                    ;;
                reset)
                    _arguments '--yes[Skip confirmation prompt]'
                    ;;
                server)
                    _arguments '--addr[Address to listen on]:address:'
                    ;;
                completion)
                    _arguments '1:shell:(bash zsh fish)'
                    ;;
            esac
            ;;
    esac
}

_ezmon
`

// fishCompletionTemplate is the fish completion script for ezmon.
const fishCompletionTemplate = `# Fish completion script for ezmon
# Installation:
#   1. Load completions for current session:
#      ezmon completion fish | source
#   2. Install permanently:
#      ezmon completion fish > ~/.config/fish/completions/ezmon.fish

complete -c ezmon -f -n "__fish_use_subcommand" -a "init" -d "Create the local store and a default .ezmon.yaml"
complete -c ezmon -f -n "__fish_use_subcommand" -a "status" -d "Show local store summary"
complete -c ezmon -f -n "__fish_use_subcommand" -a "reset" -d "Delete the local store (destructive!)"
complete -c ezmon -f -n "__fish_use_subcommand" -a "server" -d "Start the Network Store HTTP server"
complete -c ezmon -f -n "__fish_use_subcommand" -a "completion" -d "Generate shell completion script"

complete -c ezmon -l version -d "Show version and exit"
complete -c ezmon -l select -d "Enable selection and collection"
complete -c ezmon -l env -d "Partition fingerprints per environment label" -r
complete -c ezmon -l json -d "Output in JSON format"

complete -c ezmon -n "__fish_seen_subcommand_from init" -l env -d "Default environment label" -r
complete -c ezmon -n "__fish_seen_subcommand_from status" -l json -d "Output as JSON"
complete -c ezmon -n "__fish_seen_subcommand_from reset" -l yes -d "Skip confirmation prompt"
complete -c ezmon -n "__fish_seen_subcommand_from server" -l addr -d "Address to listen on" -r

complete -c ezmon -n "__fish_seen_subcommand_from completion" -f -a "bash" -d "Generate bash completion script"
complete -c ezmon -n "__fish_seen_subcommand_from completion" -f -a "zsh" -d "Generate zsh completion script"
complete -c ezmon -n "__fish_seen_subcommand_from completion" -f -a "fish" -d "Generate fish completion script"
`

// runCompletion implements `ezmon completion <shell>`, printing a
// shell-specific completion script to stdout.
func runCompletion(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("completion", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ezmon completion <shell>

Generate shell completion scripts for bash, zsh, or fish.

Examples:
  ezmon completion bash
  source <(ezmon completion bash)
  ezmon completion zsh > "${fpath[1]}/_ezmon"
  ezmon completion fish | source
`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() != 1 {
		errors.FatalError(errors.NewInputError(
			"Invalid arguments",
			"The completion command requires exactly one argument: the shell name",
			"Run 'ezmon completion bash', 'ezmon completion zsh', or 'ezmon completion fish'",
		), globals.JSON)
	}

	switch shell := fs.Arg(0); shell {
	case "bash":
		fmt.Print(bashCompletionTemplate)
	case "zsh":
		fmt.Print(zshCompletionTemplate)
	case "fish":
		fmt.Print(fishCompletionTemplate)
	default:
		errors.FatalError(errors.NewInputError(
			"Unsupported shell",
			fmt.Sprintf("Shell %q is not supported. Valid options: bash, zsh, fish", shell),
			"Run 'ezmon completion bash', 'ezmon completion zsh', or 'ezmon completion fish'",
		), globals.JSON)
	}
}

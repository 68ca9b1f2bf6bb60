package config

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"

	"github.com/mattjoyce/tgrelay/internal/acl"
	"github.com/mattjoyce/tgrelay/internal/command"
)

// BotSpec is a fully resolved bot: compiled patterns, absolute executables
// and effective access policies.
type BotSpec struct {
	Name          string
	Token         string
	WebhookSecret string
	Policy        acl.Policy
	Commands      []command.Command
}

// Resolve turns a validated Config into the list of bots to run. Any error
// is a configuration error and must abort startup.
func Resolve(cfg *Config) ([]BotSpec, error) {
	global := policy(cfg.Allow, cfg.Deny)

	bots := make([]BotSpec, 0, len(cfg.Bots))
	for i, bc := range cfg.Bots {
		botPolicy := policy(bc.Allow, bc.Deny)

		cmds := make([]command.Command, 0, len(bc.Commands))
		for j, cc := range bc.Commands {
			cmd, err := resolveCommand(cc, acl.Inherit(global, botPolicy, policy(cc.Allow, cc.Deny)))
			if err != nil {
				return nil, fmt.Errorf("bots[%d].commands[%d]: %w", i, j, err)
			}
			if cmd.Name == "" {
				cmd.Name = fmt.Sprintf("%s#%d", bc.Name, j)
			}
			cmds = append(cmds, cmd)
		}

		bots = append(bots, BotSpec{
			Name:          bc.Name,
			Token:         bc.Token,
			WebhookSecret: bc.WebhookSecret,
			Policy:        acl.Inherit(global, botPolicy, acl.Policy{}),
			Commands:      cmds,
		})
	}
	return bots, nil
}

func resolveCommand(cc CommandConf, p acl.Policy) (command.Command, error) {
	pattern, err := compilePattern(cc)
	if err != nil {
		return command.Command{}, err
	}

	exe, err := exec.LookPath(cc.Executable)
	if err != nil {
		return command.Command{}, fmt.Errorf("executable %q: %w", cc.Executable, err)
	}
	if exe, err = filepath.Abs(exe); err != nil {
		return command.Command{}, fmt.Errorf("executable %q: %w", cc.Executable, err)
	}

	input, err := command.ParseInputKind(cc.Input)
	if err != nil {
		return command.Command{}, err
	}
	output, err := command.ParseOutputKind(cc.Output)
	if err != nil {
		return command.Command{}, err
	}
	mode, err := command.ParseMode(cc.Mode)
	if err != nil {
		return command.Command{}, err
	}

	return command.Command{
		Name:       cc.Name,
		Pattern:    pattern,
		Executable: exe,
		Args:       append([]string(nil), cc.Args...),
		Dir:        cc.Dir,
		Env:        append([]string(nil), cc.Env...),
		Input:      input,
		Output:     output,
		Mode:       mode,
		Timeout:    cc.Timeout,
		StrictExit: cc.StrictExit,
		Policy:     p,
	}, nil
}

// compilePattern compiles the regular expression, or anchors a legacy prefix.
func compilePattern(cc CommandConf) (*regexp.Regexp, error) {
	src := cc.Pattern
	if cc.Prefix != "" {
		src = "^" + regexp.QuoteMeta(cc.Prefix)
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return re, nil
}

func policy(allow, deny []int64) acl.Policy {
	return acl.Policy{Allow: acl.NewList(allow...), Deny: acl.NewList(deny...)}
}

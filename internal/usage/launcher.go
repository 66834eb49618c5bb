package usage

import (
	"github.com/loykin/ptyvisor/internal/domain"
	"github.com/loykin/ptyvisor/internal/manager"
)

// SupervisorLauncher runs automation shells as hidden supervisor processes,
// so they share spawn, tree-kill and shutdown handling with everything else.
type SupervisorLauncher struct {
	Supervisor *manager.Supervisor
	WorkDir    string
	Env        []string
}

func (l SupervisorLauncher) Launch(obs Observer) (Terminal, error) {
	h, err := l.Supervisor.Spawn(domain.Automation, "", manager.SpawnConfig{
		WorkDir:  l.WorkDir,
		Env:      l.Env,
		Observer: obs,
	})
	if err != nil {
		return nil, err
	}
	return supervisedTerminal{sup: l.Supervisor, h: h}, nil
}

type supervisedTerminal struct {
	sup *manager.Supervisor
	h   manager.Handle
}

func (t supervisedTerminal) Write(text string) { t.sup.Write(t.h, text) }

// Kill is asynchronous; the exit reaches the session through Observer.Exited.
func (t supervisedTerminal) Kill() { t.sup.Kill(t.h) }

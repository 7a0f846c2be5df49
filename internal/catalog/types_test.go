package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("api"))
	assert.True(t, ValidName("my-app_v2.1"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("has space"))
	assert.False(t, ValidName("slash/name"))
}

func TestPortModeValid(t *testing.T) {
	assert.True(t, PortMode("").Valid())
	assert.True(t, PortModeStatic.Valid())
	assert.True(t, PortModeDetect.Valid())
	assert.True(t, PortModeRegistry.Valid())
	assert.False(t, PortMode("bogus").Valid())
}

func TestServiceEffectivePortMode(t *testing.T) {
	s := Service{Name: "api"}
	assert.Equal(t, PortModeStatic, s.EffectivePortMode())

	s.PortMode = PortModeDetect
	assert.Equal(t, PortModeDetect, s.EffectivePortMode())
}

func TestServiceValidate(t *testing.T) {
	base := Service{Name: "api", Cwd: "/tmp", Command: "npm start"}
	assert.NoError(t, base.Validate())

	bad := base
	bad.Name = "bad name"
	assert.Error(t, bad.Validate())

	noCwd := base
	noCwd.Cwd = ""
	assert.Error(t, noCwd.Validate())

	noCommand := base
	noCommand.Command = ""
	assert.Error(t, noCommand.Validate())

	badPort := base
	port := 70000
	badPort.Port = &port
	assert.Error(t, badPort.Validate())

	selfDep := base
	selfDep.DependsOn = []string{"api"}
	assert.Error(t, selfDep.Validate())

	dupDep := base
	dupDep.DependsOn = []string{"db", "db"}
	assert.Error(t, dupDep.Validate())

	badMode := base
	badMode.PortMode = "invalid"
	assert.Error(t, badMode.Validate())
}

func TestProjectValidate(t *testing.T) {
	ok := Project{Name: "myapp", Path: "/repos/myapp"}
	assert.NoError(t, ok.Validate())

	noPath := Project{Name: "myapp"}
	assert.Error(t, noPath.Validate())

	badName := Project{Name: "my app", Path: "/repos/myapp"}
	assert.Error(t, badName.Validate())
}

package devops

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// UnknownAgentSpec is reported when no agent hint can be found.
const UnknownAgentSpec = "unknown"

// ExtractAgentInfos lists the agent specification of every environment in an
// expanded release definition document.
func ExtractAgentInfos(pipelineID int, pipelineName string, definition []byte) []EnvironmentAgentInfo {
	var infos []EnvironmentAgentInfo
	gjson.GetBytes(definition, "environments").ForEach(func(_, env gjson.Result) bool {
		name := env.Get("name").String()
		if name == "" {
			name = "Unknown"
		}
		infos = append(infos, EnvironmentAgentInfo{
			PipelineID:       pipelineID,
			PipelineName:     pipelineName,
			EnvironmentID:    int(env.Get("id").Int()),
			EnvironmentName:  name,
			CurrentAgentSpec: ExtractAgentSpecification(env),
			CanUpdate:        true,
		})
		return true
	})
	return infos
}

// ExtractAgentSpecification resolves the agent specification of one
// environment. The explicit agentSpecification of a deploy phase wins, then a
// Windows version in the Agent.OS demands, then hints in the conditions.
func ExtractAgentSpecification(env gjson.Result) string {
	for _, phase := range env.Get("deployPhases").Array() {
		input := phase.Get("deploymentInput")
		if !input.Exists() {
			continue
		}
		if name := input.Get("agentSpecification.name"); name.Exists() {
			if name.Type == gjson.Null {
				return UnknownAgentSpec
			}
			return name.String()
		}
		for _, demand := range input.Get("demands").Array() {
			d := demand.String()
			if !strings.Contains(d, "Agent.OS") || !strings.Contains(d, "Windows") {
				continue
			}
			switch {
			case strings.Contains(d, "2019"):
				return "windows-2019"
			case strings.Contains(d, "2022"):
				return "windows-2022"
			case strings.Contains(d, "latest"):
				return "windows-latest"
			}
		}
	}

	for _, cond := range env.Get("conditions").Array() {
		v := cond.Get("value").String()
		switch {
		case strings.Contains(v, "windows-2019"):
			return "windows-2019"
		case strings.Contains(v, "windows-2022"):
			return "windows-2022"
		case strings.Contains(v, "windows-latest"):
			return "windows-latest"
		case strings.Contains(v, "ubuntu"):
			return "ubuntu-latest"
		case strings.Contains(v, "macos"):
			return "macos-latest"
		}
	}
	return UnknownAgentSpec
}

// PatchAgentSpecification sets the agent specification of every deploy phase
// of the environment with the given id and rewrites hosted Windows image
// names in its demands. The rest of the document is left untouched. The
// returned flag is false when the environment does not exist.
func PatchAgentSpecification(definition []byte, environmentID int, spec string) ([]byte, bool, error) {
	envIndex := -1
	for i, env := range gjson.GetBytes(definition, "environments").Array() {
		if int(env.Get("id").Int()) == environmentID {
			envIndex = i
			break
		}
	}
	if envIndex < 0 {
		return definition, false, nil
	}

	doc := definition
	var err error
	phasesPath := fmt.Sprintf("environments.%d.deployPhases", envIndex)
	for j, phase := range gjson.GetBytes(doc, phasesPath).Array() {
		input := phase.Get("deploymentInput")
		if !input.IsObject() {
			continue
		}
		inputPath := fmt.Sprintf("%s.%d.deploymentInput", phasesPath, j)

		if input.Get("agentSpecification").IsObject() {
			doc, err = sjson.SetBytes(doc, inputPath+".agentSpecification.name", spec)
		} else {
			doc, err = sjson.SetBytes(doc, inputPath+".agentSpecification", map[string]string{"name": spec})
		}
		if err != nil {
			return nil, false, err
		}

		for k, demand := range input.Get("demands").Array() {
			d := demand.String()
			var replaced string
			switch {
			case strings.Contains(d, "windows-2019"):
				replaced = strings.ReplaceAll(d, "windows-2019", spec)
			case strings.Contains(d, "windows-2022"):
				replaced = strings.ReplaceAll(d, "windows-2022", spec)
			default:
				continue
			}
			doc, err = sjson.SetBytes(doc, fmt.Sprintf("%s.demands.%d", inputPath, k), replaced)
			if err != nil {
				return nil, false, err
			}
		}
	}
	return doc, true, nil
}

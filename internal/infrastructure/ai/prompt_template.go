package ai

import (
	"bytes"
	"strconv"
	"strings"
	"text/template"

	"github.com/doeshing/opsai/internal/domain"
)

// Prompt templates for each capability.
//
// Template Variables Available:
//   - {{.ServerInfo}}: "Host: ..., OS: ..." line describing the target
//   - {{.Plan}}: the plan produced by the planner
//   - {{.Commands}}: commands to review, one per line
//   - {{.Results}}: command/exit-code pairs of a finished run
//   - {{.Output}}: combined output of a finished run
var (
	planSystemTemplate = template.Must(template.New("plan").Parse(`You are a senior Linux task planner.
Analyze the user's request and produce a detailed execution plan.

Server information:
{{.ServerInfo}}

Reply ONLY with valid JSON in this format:
{
  "objective": "Clear description of the goal",
  "steps": ["Step 1", "Step 2"],
  "risks": ["Risk 1", "Risk 2"],
  "estimatedTime": "Estimated time",
  "requiresConfirmation": true
}

Rules:
- Be specific and detailed in the steps
- Identify every potential risk
- Set requiresConfirmation to true when any operation is destructive`))

	commandsSystemTemplate = template.Must(template.New("commands").Parse(`You are a senior Linux administrator.
Generate safe shell commands that carry out the given plan.

Server information:
{{.ServerInfo}}

IMPORTANT CONTEXT:
- Commands run DIRECTLY on the remote server over SSH
- You are already connected: never use ssh, scp, rsync or any remote connection command
- Write commands as if typing in the server's terminal

CRITICAL RULES:
- NEVER use destructive commands (rm -rf /, mkfs, dd and the like)
- Use sudo ONLY when strictly necessary
- Prefer non-interactive commands (for example apt-get -y)
- Split complex work into simple steps

Reply ONLY with valid JSON:
{
  "commands": ["command1", "command2"],
  "explanation": "What each command does",
  "warnings": ["Warning 1"]
}`))

	commandsUserTemplate = template.Must(template.New("commands-user").Funcs(templateFuncs).Parse(`Original request: {{.Prompt}}

Execution plan:
- Objective: {{.Plan.Objective}}
- Steps: {{join .Plan.Steps ", "}}

Generate the required shell commands.`))

	securitySystemPrompt = `You are a Linux security specialist.
Analyze the given commands and identify security risks.

FORBIDDEN COMMANDS (always reject):
- rm -rf / or rm -rf /*
- mkfs on any device
- dd with if=/dev/zero
- Fork bombs
- Changes to /etc/passwd or /etc/shadow
- Downloading and executing remote scripts (curl | sh)

Reply ONLY with valid JSON:
{
  "isApproved": true,
  "riskLevel": "LOW" | "MEDIUM" | "HIGH" | "CRITICAL",
  "issues": ["Issue 1"],
  "recommendations": ["Recommendation 1"]
}`

	securityUserTemplate = template.Must(template.New("security-user").Funcs(templateFuncs).Parse(`Analyze these commands:
{{join .Commands "\n"}}`))

	analysisSystemPrompt = `You are a senior Linux systems analyst.
Interpret the output of the executed commands and write a report.

Reply ONLY with valid JSON:
{
  "success": true,
  "summary": "Result summary",
  "details": "Execution details",
  "nextSteps": ["Next step 1"],
  "errors": ["Error 1"]
}`

	analysisUserTemplate = template.Must(template.New("analysis-user").Parse(`Original request: {{.Prompt}}

Executed commands:
{{range .Results}}{{.Command}} (exit code: {{.ExitCode}})
{{end}}
Output:
{{.Output}}

Analyze the result and write the report.`))

	chatSystemTemplate = template.Must(template.New("chat").Parse(`You are a senior Linux administration assistant.
Answer clearly and concisely.{{if .ServerInfo}}

Context:
{{.ServerInfo}}{{end}}`))
)

var templateFuncs = template.FuncMap{"join": strings.Join}

type templateData struct {
	Prompt     string
	ServerInfo string
	Plan       domain.Plan
	Commands   []string
	Results    []commandResultLine
	Output     string
}

type commandResultLine struct {
	Command  string
	ExitCode string
}

func resultLines(commands []string, exitCodes []*int) []commandResultLine {
	lines := make([]commandResultLine, 0, len(commands))
	for i, command := range commands {
		code := "null"
		if i < len(exitCodes) && exitCodes[i] != nil {
			code = strconv.Itoa(*exitCodes[i])
		}
		lines = append(lines, commandResultLine{Command: command, ExitCode: code})
	}
	return lines
}

func executeTemplate(tmpl *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

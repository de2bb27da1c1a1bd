package generator

import (
	"strings"
)

const defaultPlatform = "AI coding assistants"

type Platform struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Platforms are the targets the system prompt has formatting guidance for.
// Any other platform string is passed to the model as is.
var Platforms = []Platform{
	{ID: "cursor", Name: "Cursor", Description: "AI-powered code editor"},
	{ID: "lovable", Name: "Lovable", Description: "AI full-stack builder"},
	{ID: "replit", Name: "Replit", Description: "Cloud development platform"},
}

const systemPrompt = `You are an expert product manager and technical architect. Your task is to create detailed, professional Product Requirements Documents (PRDs) that are specifically formatted for AI coding assistants like Cursor, Lovable, and Replit.

When generating a PRD, you should:

1. **Understand the Context**: Analyze the user's requirements thoroughly. If they've uploaded project files, understand the existing architecture.

2. **Structure the PRD Properly** with these sections:
   - **Project Overview**: Brief description, goals, and target users
   - **Technical Stack**: Recommended technologies, frameworks, and tools
   - **Core Features**: Detailed breakdown of features with acceptance criteria
   - **User Stories**: Clear user stories in "As a [user], I want [feature], so that [benefit]" format
   - **Database Schema**: If applicable, include table structures and relationships
   - **API Endpoints**: RESTful endpoints with methods, parameters, and responses
   - **UI/UX Requirements**: Page layouts, components, and user flows
   - **Step-by-Step Implementation Plan**: Numbered steps for the AI to follow
   - **Testing Requirements**: What should be tested and how
   - **Edge Cases & Error Handling**: Potential issues and how to handle them

3. **Format for AI Assistants**:
   - Use clear markdown formatting
   - Include code snippets where helpful
   - Be specific and actionable
   - Avoid ambiguity
   - Include file structure recommendations

4. **Platform-Specific Formatting**:
   - For **Cursor**: Include file paths and detailed code comments
   - For **Lovable**: Focus on component structure and visual requirements
   - For **Replit**: Include environment setup and deployment notes

Be thorough but concise. Every instruction should be clear enough that an AI coding assistant can follow it without additional clarification.`

const refineSystemPrompt = systemPrompt + `

When asked to refine an existing PRD, return the complete updated document rather than a diff. Keep every section that is still valid, integrate the new requirements where they belong and mark nothing as removed unless the new requirements replace it.`

func platformOrDefault(platform string) string {
	if p := strings.TrimSpace(platform); p != "" {
		return p
	}
	return defaultPlatform
}

func buildGenerateMessage(requirements, platform, projectContext string) string {
	var b strings.Builder
	b.WriteString("Generate a detailed PRD for the following project requirements. This PRD will be used with ")
	b.WriteString(platformOrDefault(platform))
	b.WriteString(".\n\n**User Requirements:**\n")
	b.WriteString(requirements)
	b.WriteString("\n\n")
	writeProjectContext(&b, projectContext,
		"Please analyze this existing project and create a PRD that builds upon or improves the current architecture.")
	b.WriteString("Please generate a comprehensive, well-structured PRD that an AI coding assistant can follow step-by-step to implement this project.\n")
	return b.String()
}

func buildRefineMessage(existing, additional, platform, projectContext string) string {
	var b strings.Builder
	b.WriteString("Refine the following PRD. The result will be used with ")
	b.WriteString(platformOrDefault(platform))
	b.WriteString(".\n\n**Current PRD:**\n")
	b.WriteString(existing)
	b.WriteString("\n\n**Additional Requirements:**\n")
	b.WriteString(additional)
	b.WriteString("\n\n")
	writeProjectContext(&b, projectContext,
		"Make sure the refined PRD stays consistent with this existing project.")
	b.WriteString("Return the full refined PRD incorporating the additional requirements.\n")
	return b.String()
}

func writeProjectContext(b *strings.Builder, projectContext, instruction string) {
	if strings.TrimSpace(projectContext) == "" {
		return
	}
	b.WriteString("**Existing Project Context:**\n")
	b.WriteString(projectContext)
	b.WriteString("\n\n")
	b.WriteString(instruction)
	b.WriteString("\n\n")
}

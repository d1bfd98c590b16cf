package mail

import "fmt"

// WelcomeMessage 注册成功通知
func WelcomeMessage(to, fullName string) Message {
	return Message{
		To:      to,
		Subject: "Welcome to MedCap",
		Body: fmt.Sprintf("Hi %s,\n\nWelcome to MedCap!\n\nThank you for registering. "+
			"Your account has been sent for approval.\n\nBest regards,\nMedCap Team\n", fullName),
	}
}

// ApprovalMessage 账号审批通过通知
func ApprovalMessage(to, fullName, siteURL string) Message {
	return Message{
		To:      to,
		Subject: "Your MedCap account has been approved",
		Body: fmt.Sprintf("Hi %s,\n\nGood news! Your MedCap account has been approved and is now active.\n\n"+
			"You can log in at %s.\n", fullName, siteURL),
	}
}

// IssueSubmittedBody 新问题反馈通知正文
func IssueSubmittedBody(issueID, reporter, description string) string {
	return fmt.Sprintf("A new issue has been reported.\n\nIssue ID: %s\nReported by: %s\n\n%s\n", issueID, reporter, description)
}

// AccountLockedBody 账号锁定时发给管理员的通知正文
func AccountLockedBody(email string, attempts int) string {
	return fmt.Sprintf("User %s has been locked out after %d failed login attempts.\n", email, attempts)
}

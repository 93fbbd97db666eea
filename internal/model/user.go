package model

type Team struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	TeamID   *int64 `json:"team_id,omitempty"`
	IsStaff  bool   `json:"is_staff"`
}

// InTeam 用户是否属于 teams 中的某一个
func (u *User) InTeam(teams []int64) bool {
	if u.TeamID == nil {
		return false
	}
	for _, t := range teams {
		if t == *u.TeamID {
			return true
		}
	}
	return false
}

// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"finpro-go/internal/model"
	"finpro-go/internal/repository"
	"finpro-go/pkg/hash"
	"finpro-go/pkg/log"
	"finpro-go/pkg/token"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrUsernameTaken 表示注册时用户名已被占用。
var ErrUsernameTaken = errors.New("username already registered")

// RegisterRequest 是注册所需的用户信息。
type RegisterRequest struct {
	Username string
	Name     string
	Email    string
	Password string
}

// LoginResult 是登录成功后返回给客户端的信息。
type LoginResult struct {
	User  *model.User
	Token string
}

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(ctx context.Context, req RegisterRequest) (*model.User, error)
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	GetProfile(ctx context.Context, username string) (*model.User, error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager) UserService {
	return &userService{
		userRepo:   userRepo,
		jwtManager: jwtManager,
	}
}

// Register 处理用户注册的业务逻辑，每个新用户分配一个会话 ID。
func (s *userService) Register(ctx context.Context, req RegisterRequest) (*model.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Password == "" {
		return nil, validationError("username and password are required")
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return nil, validationError("invalid email address")
		}
	}

	// 1. 检查用户名是否已存在
	_, err := s.userRepo.FindByUsername(ctx, req.Username)
	if err == nil {
		return nil, wrapError(ErrValidation, "register", ErrUsernameTaken)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	// 3. 创建用户
	newUser := &model.User{
		Username:  req.Username,
		Name:      strings.TrimSpace(req.Name),
		Email:     req.Email,
		Password:  hashedPassword,
		SessionID: uuid.NewString(),
	}
	if err := s.userRepo.Create(ctx, newUser); err != nil {
		log.Errorf("[UserService] 创建用户失败, username: %s, error: %v", req.Username, err)
		return nil, err
	}
	log.Infof("[UserService] 用户注册成功, username: %s, session: %s", newUser.Username, newUser.SessionID)
	return newUser, nil
}

// Login 处理用户登录的业务逻辑。
func (s *userService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	// 1. 查找用户
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wrapError(ErrUnauthenticated, "login", errors.New("invalid credentials"))
		}
		return nil, err
	}

	// 2. 验证密码
	if !hash.CheckPasswordHash(password, user.Password) {
		return nil, wrapError(ErrUnauthenticated, "login", errors.New("invalid credentials"))
	}

	// 3. 生成 access token
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Username, user.SessionID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, Token: accessToken}, nil
}

// GetProfile 根据用户名获取用户详细信息。
func (s *userService) GetProfile(ctx context.Context, username string) (*model.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

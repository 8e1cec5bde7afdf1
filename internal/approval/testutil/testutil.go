package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/VeganGarden/MyGarden-sub001/internal/approval/entity"
	"github.com/VeganGarden/MyGarden-sub001/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TestSchema = "test_approval"
	JWTSecret  = "approval-manage-jwt-secret-2024"
)

// projectRoot returns the project root directory by looking for go.mod
func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// loadEnv loads .env from the project root
func loadEnv() {
	root := projectRoot()
	if root != "" {
		godotenv.Load(filepath.Join(root, ".env"))
	}
}

// SetupTestDB creates a test database connection using a dedicated test schema.
// Each test gets an isolated schema that is cleaned up after the test.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	loadEnv()

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "approval")
	password := getEnv("DB_PASSWORD", "approval123")
	dbname := getEnv("DB_NAME", "approval_manage")

	baseDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// Create a unique test schema for isolation
	schemaName := fmt.Sprintf("%s_%d", TestSchema, time.Now().UnixNano()%1000000)

	// First: create schema using a temporary connection
	setupDB, err := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to database for schema setup: %v", err)
	}
	setupDB.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName))
	sqlSetup, _ := setupDB.DB()
	sqlSetup.Close()

	// Second: open connection with search_path in DSN so ALL pooled connections use test schema
	testDSN := fmt.Sprintf("%s search_path=%s", baseDSN, schemaName)
	db, err := gorm.Open(postgres.Open(testDSN), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Migrate test tables
	err = db.AutoMigrate(
		&entity.ApprovalConfig{},
		&entity.ApprovalRequest{},
		&entity.ApprovalRecord{},
		&entity.AdminUser{},
		&entity.AuditLog{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	// Cleanup on test completion
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		// Reconnect to drop the schema
		cleanDB, cleanErr := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if cleanErr == nil {
			cleanDB.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
			sqlClean, _ := cleanDB.DB()
			if sqlClean != nil {
				sqlClean.Close()
			}
		}
	})

	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, username, role string) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      userID,
		"uid":      userID,
		"username": username,
		"role":     role,
		"iss":      "approval-manage",
		"iat":      now.Unix(),
		"exp":      now.Add(24 * time.Hour).Unix(),
		"jti":      fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedUser creates an admin user in the database
func SeedUser(t *testing.T, db *gorm.DB, id, name, role, status string) *entity.AdminUser {
	t.Helper()
	user := &entity.AdminUser{
		ID:        id,
		Username:  "user_" + id,
		Name:      name,
		Role:      role,
		Status:    status,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to seed admin user: %v", err)
	}
	return user
}

// SeedConfig creates an approval config with the given node chain
func SeedConfig(t *testing.T, db *gorm.DB, businessType, operationType string, autoApprove bool, nodes []entity.Node) *entity.ApprovalConfig {
	t.Helper()
	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		t.Fatalf("Failed to marshal nodes: %v", err)
	}
	cfg := &entity.ApprovalConfig{
		ID:            fmt.Sprintf("cfg-%d", time.Now().UnixNano()),
		ConfigID:      fmt.Sprintf("%s_%s", businessType, operationType),
		BusinessType:  businessType,
		OperationType: operationType,
		Name:          businessType + " " + operationType,
		Nodes:         nodesJSON,
		AutoApprove:   autoApprove,
		Status:        entity.ConfigStatusActive,
		CreatedBy:     "system",
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := db.Create(cfg).Error; err != nil {
		t.Fatalf("Failed to seed approval config: %v", err)
	}
	return cfg
}

// TwoNodeFlow returns a role-gated two node chain for tests
func TwoNodeFlow() []entity.Node {
	return []entity.Node{
		{NodeID: "node_1", NodeName: "碳排放专员审核", ApproverType: entity.ApproverTypeRole, ApproverValue: entity.RoleCarbonSpecialist, NotifyOnCreate: true},
		{NodeID: "node_2", NodeName: "系统管理员审核", ApproverType: entity.ApproverTypeRole, ApproverValue: entity.RoleSystemAdmin, NotifyOnCreate: true},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Package publish 实现发布管道
//
// 一次发布的步骤：
//  1. 校验请求；会话未就绪且未要求 persist 时立即失败
//  2. 可选的客户端限速
//  3. 占用在途槽位（MaxInFlight），超出上限的调用方在此等待
//  4. 通过公钥缓存解析收件人，加密载荷
//  5. 发送 publish 帧并等待 Broker 应答（PublishTimeout）
//
// 槽位从占用一直持有到 Broker 应答或操作失败。应用层的失败不会
// 自动重试；persist 发布在连接错误后等待会话恢复并重新提交。
package publish
